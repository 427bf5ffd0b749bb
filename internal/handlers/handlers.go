package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"library-system/internal/audit"
	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/services"
)

const defaultListLimit = 100

type LibraryHandler struct {
	svc     services.LibraryService
	auditor *audit.Auditor
}

func RegisterRoutes(r *gin.Engine, svc services.LibraryService, auditor *audit.Auditor) {
	h := &LibraryHandler{svc: svc, auditor: auditor}

	r.Use(requestLogger())

	// Catalogue
	r.POST("/books", h.addBook)
	r.GET("/books", h.listBooks)
	r.GET("/books/:isbn", h.getBook)
	r.GET("/books/:isbn/borrows", h.bookHistory)
	r.GET("/categories/:category/books", h.listByCategory)
	r.GET("/authors/:author/books", h.listByAuthor)

	// Patrons
	r.POST("/users", h.registerUser)
	r.GET("/users-by-email/:email", h.lookupUser)
	r.GET("/users/:id", h.getUser)
	r.GET("/users/:id/borrows", h.userHistory)
	r.GET("/users/:id/active-borrows", h.activeBorrows)

	// Circulation
	r.POST("/borrows", h.borrow)
	r.POST("/returns", h.giveBack)

	r.GET("/audit", h.runAudit)
}

// requestLogger attaches a logrus entry with a request id to the request context.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		entry := logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
		})
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), entry))
		c.Header("X-Request-ID", requestID)
		c.Next()
		entry.WithField("status", c.Writer.Status()).Debug("request done")
	}
}

type addBookRequest struct {
	ISBN            string `json:"isbn" form:"isbn" binding:"required"`
	Title           string `json:"title" form:"title" binding:"required"`
	Author          string `json:"author" form:"author" binding:"required"`
	Category        string `json:"category" form:"category" binding:"required"`
	Publisher       string `json:"publisher" form:"publisher"`
	PublicationYear int    `json:"publication_year" form:"publication_year"`
	TotalCopies     int    `json:"total_copies" form:"total_copies" binding:"min=0"`
	Description     string `json:"description" form:"description"`
}

func (h *LibraryHandler) addBook(c *gin.Context) {
	var req addBookRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book := models.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		Publisher:       req.Publisher,
		PublicationYear: req.PublicationYear,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
		Description:     req.Description,
	}
	if err := h.svc.AddBook(c.Request.Context(), book); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LibraryHandler) listBooks(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	books, err := h.svc.ListBooks(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	book, err := h.svc.GetBook(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) bookHistory(c *gin.Context) {
	rows, err := h.svc.BookLoanHistory(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *LibraryHandler) listByCategory(c *gin.Context) {
	books, err := h.svc.ListBooksByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LibraryHandler) listByAuthor(c *gin.Context) {
	books, err := h.svc.ListBooksByAuthor(c.Request.Context(), c.Param("author"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, books)
}

type registerUserRequest struct {
	Email     string `json:"email" form:"email" binding:"required,email"`
	FirstName string `json:"first_name" form:"first_name" binding:"required"`
	LastName  string `json:"last_name" form:"last_name" binding:"required"`
	Phone     string `json:"phone" form:"phone"`
	Address   string `json:"address" form:"address"`
}

func (h *LibraryHandler) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.svc.CreatePatron(c.Request.Context(), services.PatronInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": id})
}

func (h *LibraryHandler) lookupUser(c *gin.Context) {
	id, err := h.svc.FindPatronIDByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id})
}

func (h *LibraryHandler) getUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	user, err := h.svc.GetPatron(c.Request.Context(), userID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *LibraryHandler) userHistory(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	rows, err := h.svc.PatronLoanHistory(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *LibraryHandler) activeBorrows(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	loans, err := h.svc.GetActiveLoans(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loans)
}

// circulationRequest identifies the patron by id or by email.
type circulationRequest struct {
	UserID string `json:"user_id" form:"user_id" binding:"omitempty,uuid"`
	Email  string `json:"email" form:"email" binding:"omitempty,email"`
	ISBN   string `json:"isbn" form:"isbn" binding:"required"`
	Days   int    `json:"days" form:"days" binding:"omitempty,min=1"`
}

func (h *LibraryHandler) borrow(c *gin.Context) {
	req, patronID, ok := h.bindCirculation(c)
	if !ok {
		return
	}
	res := h.svc.BorrowBook(c.Request.Context(), patronID, req.ISBN, req.Days)
	writeResult(c, res, http.StatusCreated)
}

func (h *LibraryHandler) giveBack(c *gin.Context) {
	req, patronID, ok := h.bindCirculation(c)
	if !ok {
		return
	}
	res := h.svc.ReturnBook(c.Request.Context(), patronID, req.ISBN)
	writeResult(c, res, http.StatusOK)
}

func (h *LibraryHandler) bindCirculation(c *gin.Context) (circulationRequest, uuid.UUID, bool) {
	var req circulationRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, uuid.Nil, false
	}

	switch {
	case req.UserID != "":
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return req, uuid.Nil, false
		}
		return req, id, true
	case req.Email != "":
		id, err := h.svc.FindPatronIDByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return req, uuid.Nil, false
		}
		return req, id, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or email is required"})
	return req, uuid.Nil, false
}

func (h *LibraryHandler) runAudit(c *gin.Context) {
	drifts, err := h.auditor.Check(c.Request.Context())
	if err != nil && len(drifts) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": len(drifts) == 0, "drifts": drifts})
}

func parseUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeResult(c *gin.Context, res services.Result, okStatus int) {
	if res.OK {
		c.JSON(okStatus, res)
		return
	}
	body := gin.H{"ok": false, "message": res.Message, "error": res.Err.Error()}
	if res.Failed != "" {
		body["failed"] = res.Failed
		body["completed"] = res.Completed
	}
	c.JSON(statusFor(res.Err), body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
