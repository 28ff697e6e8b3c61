package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ebs-gateway/internal/database"
	"ebs-gateway/internal/middleware"
	"ebs-gateway/internal/models"
	"ebs-gateway/internal/scope"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	provinceColumn  = "province_id"

	// Keeps (page-1)*pageSize inside int32 for every driver.
	maxPage = math.MaxInt32 / maxPageSize
)

var orderColumns = map[string]bool{
	"event_id":            true,
	"event_notifier_date": true,
	"disease_name":        true,
	"disease_group":       true,
	"province_id":         true,
	"event_by_zone":       true,
	"event_by_province":   true,
}

// EbsHandler serves scoped reads of the surveillance event tables.
type EbsHandler struct {
	db    *database.DBManager
	table *scope.Table
}

func NewEbsHandler(db *database.DBManager, table *scope.Table) *EbsHandler {
	return &EbsHandler{db: db, table: table}
}

type eventQuery struct {
	table    string
	eventID  *int64
	group    string
	date     *time.Time
	year     *int
	province *int
	page     int
	pageSize int
	orderBy  string
	desc     bool
}

// ListEvents returns a page of events visible to the caller
// @Summary List surveillance events
// @Description Page through EBS events restricted to the caller's scope
// @Tags ebs
// @Produce json
// @Param source path string true "ebs or ebs_prov"
// @Param event_id query int false "Event id"
// @Param disease_group query string false "Disease group"
// @Param event_notifier_date query string false "Notification date (YYYY-MM-DD)"
// @Param event_notifier_year query int false "Notification year"
// @Param province_id query int false "Province id"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 200)"
// @Param order_by query string false "Sort column"
// @Param order_dir query string false "asc or desc"
// @Security ApiKeyAuth
// @Success 200 {object} EventPage
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/{source} [get]
func (h *EbsHandler) ListEvents(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok || actor.Scope == nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "request reached the handler without an actor"})
		return
	}

	q, err := parseEventQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	filter := h.table.Filter(actor.Scope)
	page := EventPage{Items: []map[string]interface{}{}, Page: q.page, PageSize: q.pageSize}
	if filter.Deny || (filter.Columns != nil && len(filter.Columns) == 0) {
		c.JSON(http.StatusOK, page)
		return
	}

	db := h.db.GetReadDB().WithContext(c.Request.Context())
	build := func() *gorm.DB {
		return q.apply(filter.Apply(db.Table(q.table), provinceColumn))
	}

	if err := build().Count(&page.Total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to count events"})
		return
	}

	if page.Total > 0 {
		stmt := build()
		if filter.Columns != nil {
			stmt = stmt.Select(filter.Columns)
		}
		stmt = stmt.Order(clause.OrderByColumn{Column: clause.Column{Name: q.orderBy}, Desc: q.desc})
		if q.orderBy != "event_id" {
			stmt = stmt.Order(clause.OrderByColumn{Column: clause.Column{Name: "event_id"}, Desc: true})
		}
		err := stmt.Limit(q.pageSize).Offset((q.page - 1) * q.pageSize).Find(&page.Items).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch events"})
			return
		}
	}

	page.TotalPages = int(math.Ceil(float64(page.Total) / float64(q.pageSize)))
	c.JSON(http.StatusOK, page)
}

func (q eventQuery) apply(db *gorm.DB) *gorm.DB {
	if q.eventID != nil {
		db = db.Where("event_id = ?", *q.eventID)
	}
	if q.group != "" {
		db = db.Where("disease_group = ?", q.group)
	}
	if q.date != nil {
		db = db.Where("event_notifier_date >= ? AND event_notifier_date < ?", *q.date, q.date.AddDate(0, 0, 1))
	}
	if q.year != nil {
		from := time.Date(*q.year, 1, 1, 0, 0, 0, 0, time.UTC)
		db = db.Where("event_notifier_date >= ? AND event_notifier_date < ?", from, from.AddDate(1, 0, 0))
	}
	if q.province != nil {
		db = db.Where(provinceColumn+" = ?", *q.province)
	}
	return db
}

type badQuery string

func (e badQuery) Error() string { return string(e) }

func parseEventQuery(c *gin.Context) (eventQuery, error) {
	table, ok := models.EbsSources[c.Param("source")]
	if !ok {
		return eventQuery{}, badQuery("invalid source (use ebs or ebs_prov)")
	}
	q := eventQuery{table: table, page: 1, pageSize: defaultPageSize, orderBy: "event_notifier_date", desc: true}

	if v := strings.TrimSpace(c.Query("event_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, badQuery("event_id must be a number")
		}
		q.eventID = &id
	}
	q.group = strings.TrimSpace(c.Query("disease_group"))
	if v := strings.TrimSpace(c.Query("event_notifier_date")); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return q, badQuery("event_notifier_date must be YYYY-MM-DD")
		}
		q.date = &d
	}
	if v := strings.TrimSpace(c.Query("event_notifier_year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return q, badQuery("event_notifier_year must be a year")
		}
		q.year = &y
	}
	if v := strings.TrimSpace(c.Query("province_id")); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return q, badQuery("province_id must be a number")
		}
		q.province = &p
	}

	if n, err := strconv.Atoi(c.Query("page")); err == nil && n > 1 {
		q.page = min(n, maxPage)
	}
	if n, err := strconv.Atoi(c.Query("page_size")); err == nil {
		q.pageSize = min(max(n, 1), maxPageSize)
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("order_by"))); orderColumns[v] {
		q.orderBy = v
	}
	if strings.EqualFold(strings.TrimSpace(c.Query("order_dir")), "asc") {
		q.desc = false
	}
	return q, nil
}
