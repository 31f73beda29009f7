package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"seatcheck/internal/audit"
	"seatcheck/internal/auth"
	"seatcheck/internal/checkin"
	"seatcheck/internal/ledger"
	"seatcheck/internal/roster"
)

// statusFor maps a check-in result to its HTTP status.
func statusFor(res checkin.Result) int {
	if res.Outcome == checkin.Confirmed {
		return http.StatusOK
	}
	switch res.Reason {
	case checkin.MalformedPayload:
		return http.StatusBadRequest
	case checkin.NotOnRoster:
		return http.StatusForbidden
	case checkin.SeatTaken:
		return http.StatusConflict
	case checkin.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func caller(c *gin.Context) (roster.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
	}
	return id, ok
}

func serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
}

func (a *api) checkIn(c *gin.Context) {
	var req struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := caller(c)
	if !ok {
		return
	}
	res := a.Coordinator.CheckIn(c.Request.Context(), checkin.Request{Payload: req.Payload, Caller: id})
	if res.Reason.Retryable() {
		c.Header("Retry-After", "1")
	}
	c.JSON(statusFor(res), res)
}

type seatRequest struct {
	AcademyID string `json:"academy_id" binding:"required"`
	Room      string `json:"room" binding:"required"`
	Seat      string `json:"seat" binding:"required"`
}

func (a *api) releaseSeat(c *gin.Context) {
	var req seatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := caller(c)
	if !ok {
		return
	}
	key := ledger.SeatKey{AcademyID: req.AcademyID, Room: req.Room, Seat: req.Seat}
	out, err := a.Store.Seats().Release(c.Request.Context(), key, id.StudentID)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": out.String()})
}

func (a *api) seatOccupant(c *gin.Context) {
	key := ledger.SeatKey{AcademyID: c.Param("academy"), Room: c.Param("room"), Seat: c.Param("seat")}
	cur, found, err := a.Store.Seats().Occupant(c.Request.Context(), key)
	if err != nil {
		serverError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "seat is free"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"occupant": gin.H{
		"academy_id":  cur.AcademyID,
		"room":        cur.Room,
		"seat":        cur.Seat,
		"student_id":  cur.StudentID,
		"occupied_at": cur.OccupiedAt,
	}})
}

type waitingEntry struct {
	StudentID string    `json:"student_id"`
	EnteredAt time.Time `json:"entered_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *api) listWaiting(c *gin.Context) {
	academy := c.Param("academy")
	id, ok := caller(c)
	if !ok {
		return
	}
	if !id.MemberOf(academy) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of academy " + academy})
		return
	}
	seq, err := a.Store.Waiting().ListWaiting(c.Request.Context(), academy, a.Clock())
	if err != nil {
		serverError(c, err)
		return
	}
	entries := []waitingEntry{}
	for e := range seq {
		entries = append(entries, waitingEntry{StudentID: e.StudentID, EnteredAt: e.EnteredAt, ExpiresAt: e.ExpiresAt})
	}
	c.JSON(http.StatusOK, gin.H{"academy_id": academy, "entries": entries})
}

func (a *api) leaveWaiting(c *gin.Context) {
	academy := c.Param("academy")
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := caller(c)
	if !ok {
		return
	}
	if !id.MemberOf(academy) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of academy " + academy})
		return
	}
	out, err := a.Store.Waiting().Leave(c.Request.Context(), academy, req.StudentID, a.Clock())
	if err != nil {
		serverError(c, err)
		return
	}
	body := gin.H{"result": out.String()}
	if out == ledger.Left {
		body["state"] = checkin.StatePlaced
	}
	c.JSON(http.StatusOK, body)
}

func (a *api) getAttendance(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	session := c.Query("session")
	if session == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is required"})
		return
	}
	date := c.Query("date")
	if date == "" {
		date = a.Coordinator.SessionDate(session)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	key := ledger.AttendanceKey{StudentID: id.StudentID, SessionKey: session, Date: date}
	rec, found, err := a.Store.Attendance().Get(c.Request.Context(), key)
	if err != nil {
		serverError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no attendance record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": gin.H{
		"id":          rec.ID,
		"student_id":  rec.Key.StudentID,
		"session_key": rec.Key.SessionKey,
		"date":        rec.Key.Date,
		"status":      rec.Status,
		"recorded_at": rec.RecordedAt,
		"updated_at":  rec.UpdatedAt,
	}})
}

// listEvents shows the caller's own events, or an academy's events to its members.
func (a *api) listEvents(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	f := audit.Filter{StudentID: c.Query("student_id"), AcademyID: c.Query("academy_id")}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	switch {
	case f.AcademyID != "" && id.MemberOf(f.AcademyID):
	case f.StudentID == "" || f.StudentID == id.StudentID:
		f.StudentID = id.StudentID
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot read other students' events"})
		return
	}
	events, err := a.Events.ListEvents(c.Request.Context(), f)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (a *api) issueDevToken(c *gin.Context) {
	var req struct {
		StudentID string   `json:"student_id" binding:"required"`
		Academies []string `json:"academies"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := auth.Issue(req.StudentID, req.Academies, a.JWTIssuer, a.JWTSigningKey, a.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.AccessToken,
		"expires_at":   tok.ExpiresAt.Unix(),
	})
}
