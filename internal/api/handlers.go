package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
	"github.com/angelfsepulveda/customchatfree/internal/models"
	"github.com/angelfsepulveda/customchatfree/internal/service/ai"
	"github.com/angelfsepulveda/customchatfree/internal/service/assistant"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
	"github.com/angelfsepulveda/customchatfree/internal/worker"
)

// Completer runs one completion for a user; implemented by worker.Dispatcher.
type Completer interface {
	Complete(ctx context.Context, userID int64, req ai.CompletionRequest) (string, error)
}

// ModelCatalog lists the models a chat may use.
type ModelCatalog interface {
	Models() []ai.ModelInfo
	DefaultModel() string
}

type Options struct {
	DefaultUsername string
	RequestTimeout  time.Duration
}

// Handler wires HTTP routes to the assistant service and the completion workers.
type Handler struct {
	assistant *assistant.Service
	completer Completer
	catalog   ModelCatalog
	opts      Options
	log       *logger.Logger

	userMu sync.Mutex
	userID int64
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, completer Completer, catalog ModelCatalog, opts Options, log *logger.Logger) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	return &Handler{
		assistant: service,
		completer: completer,
		catalog:   catalog,
		opts:      opts,
		log:       log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/models", h.listModels)
	api.GET("/roles", h.listRoles)
	api.POST("/roles", h.createRole)
	api.GET("/roles/:id", h.getRole)
	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", h.startConversation)
	api.PUT("/conversations/:id/role", h.assignRole)
	api.GET("/conversations/:id/messages", h.listMessages)
	api.POST("/conversations/:id/messages", h.sendMessage)
	api.POST("/chat", h.newChat)
}

// currentUser resolves the implicit user once per process. A failed lookup
// is retried on the next request.
func (h *Handler) currentUser(c *gin.Context) (int64, bool) {
	h.userMu.Lock()
	defer h.userMu.Unlock()
	if h.userID > 0 {
		return h.userID, true
	}
	id, err := h.assistant.GetOrCreateUser(c.Request.Context(), nil, h.opts.DefaultUsername)
	if err != nil {
		h.writeError(c, err)
		return 0, false
	}
	h.userID = id
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, storage.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrTxExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database busy, please retry"})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, worker.ErrDispatcherStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "completion timed out"})
	default:
		h.log.Error("request failed", "request_id", requestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": h.catalog.DefaultModel(),
		"models":  h.catalog.Models(),
	})
}

// Roles

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) listRoles(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	roles, err := h.assistant.GetRolesByUser(c.Request.Context(), nil, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if roles == nil {
		roles = []models.Role{}
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (h *Handler) createRole(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	// a persona without a system prompt has no effect on the chat
	if strings.TrimSpace(req.Description) == "" {
		h.writeError(c, &storage.ValidationError{Field: "description", Reason: "is required"})
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	roleID, err := h.assistant.CreateRole(c.Request.Context(), nil, userID, req.Name, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.Role{
		ID:          roleID,
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
	})
}

func (h *Handler) getRole(c *gin.Context) {
	roleID, ok := pathID(c)
	if !ok {
		return
	}
	role, err := h.assistant.GetRoleByID(c.Request.Context(), nil, roleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// Conversations

type startConversationRequest struct {
	RoleID int64 `json:"role_id"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	conversations, err := h.assistant.GetConversationsByUser(c.Request.Context(), nil, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *Handler) startConversation(c *gin.Context) {
	var req startConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	conversationID, err := h.assistant.StartConversation(c.Request.Context(), userID, req.RoleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	conv, err := h.assistant.GetConversation(c.Request.Context(), nil, conversationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) assignRole(c *gin.Context) {
	conversationID, ok := pathID(c)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, ok := h.ownedConversation(c, conversationID); !ok {
		return
	}
	if err := h.assistant.AssignRoleToConversation(c.Request.Context(), nil, conversationID, req.RoleID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ownedConversation loads a conversation of the current user; conversations
// of other users are reported as missing.
func (h *Handler) ownedConversation(c *gin.Context, conversationID int64) (*models.Conversation, bool) {
	userID, ok := h.currentUser(c)
	if !ok {
		return nil, false
	}
	conv, err := h.assistant.GetConversation(c.Request.Context(), nil, conversationID)
	if err == nil && conv.UserID != userID {
		err = &storage.ReferenceError{Entity: "conversation", ID: conversationID}
	}
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return conv, true
}

// Messages

type sendMessageRequest struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
}

type newChatRequest struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
	RoleID   int64  `json:"role_id"`
}

type chatResponse struct {
	ConversationID     int64  `json:"conversation_id"`
	UserMessageID      int64  `json:"user_message_id"`
	AssistantMessageID int64  `json:"assistant_message_id"`
	Model              string `json:"model"`
	Reply              string `json:"reply"`
}

func (h *Handler) listMessages(c *gin.Context) {
	conversationID, ok := pathID(c)
	if !ok {
		return
	}
	if _, ok := h.ownedConversation(c, conversationID); !ok {
		return
	}
	messages, err := h.assistant.GetMessagesByConversation(c.Request.Context(), nil, conversationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) sendMessage(c *gin.Context) {
	conversationID, ok := pathID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, ok := h.ownedConversation(c, conversationID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userMessageID, err := h.assistant.AddMessage(ctx, nil, conversationID, models.RoleUser, req.Content, models.ModelUserInput)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.reply(c, conv, userMessageID, req.Model, req.Content, req.ImageURL)
}

// newChat stores the first user turn together with its conversation, then
// answers it like any other turn.
func (h *Handler) newChat(c *gin.Context) {
	var req newChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RoleID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role_id"})
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var conversationID, userMessageID int64
	err := h.assistant.InTx(ctx, func(tx *storage.Tx) error {
		var err error
		conversationID, userMessageID, err = h.assistant.CreateConversationWithMessage(ctx, tx, userID, models.RoleUser, req.Content, models.ModelUserInput)
		if err != nil {
			return err
		}
		if req.RoleID > 0 {
			return h.assistant.AssignRoleToConversation(ctx, tx, conversationID, req.RoleID)
		}
		return nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	conv, err := h.assistant.GetConversation(ctx, nil, conversationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.reply(c, conv, userMessageID, req.Model, req.Content, req.ImageURL)
}

func (h *Handler) reply(c *gin.Context, conv *models.Conversation, userMessageID int64, modelKey, content, imageURL string) {
	ctx := c.Request.Context()
	if strings.TrimSpace(modelKey) == "" {
		modelKey = h.catalog.DefaultModel()
	}

	systemPrompt := ""
	if conv.RoleID != nil {
		role, err := h.assistant.GetRoleByID(ctx, nil, *conv.RoleID)
		switch {
		case err == nil:
			systemPrompt = role.Description
		case errors.Is(err, storage.ErrNotFound):
			// role deleted since assignment; chat without a persona
		default:
			h.writeError(c, err)
			return
		}
	}

	completionCtx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()
	text, err := h.completer.Complete(completionCtx, conv.UserID, ai.CompletionRequest{
		Model:        modelKey,
		Prompt:       content,
		SystemPrompt: systemPrompt,
		ImageURL:     imageURL,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		text = "[Empty response from " + modelKey + "]"
	}

	assistantMessageID, err := h.assistant.AddMessage(ctx, nil, conv.ID, models.RoleAssistant, text, modelKey)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chatResponse{
		ConversationID:     conv.ID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Model:              modelKey,
		Reply:              text,
	})
}
