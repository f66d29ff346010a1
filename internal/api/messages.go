package api

import (
	"net/http"
	"strconv"

	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/gin-gonic/gin"
)

type createMessageRequest struct {
	Type             string  `json:"type" binding:"required"`
	Body             *string `json:"body"`
	IsEncrypted      bool    `json:"isEncrypted"`
	MediaURL         *string `json:"mediaUrl"`
	MediaName        *string `json:"mediaName"`
	MediaMime        *string `json:"mediaMime"`
	MediaSize        *int64  `json:"mediaSize"`
	VoiceDurationMs  *int64  `json:"voiceDurationMs"`
	ReplyToMessageID *string `json:"replyToMessageId"`
	ClientID         *string `json:"clientId"`
}

func (s *Server) handleCreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	msg, created, err := s.messages.Create(c.Request.Context(), messaging.CreateInput{
		ConversationID:   c.Param("id"),
		SenderID:         GetUserID(c),
		Type:             store.MessageType(req.Type),
		Body:             req.Body,
		IsEncrypted:      req.IsEncrypted,
		MediaURL:         req.MediaURL,
		MediaName:        req.MediaName,
		MediaMime:        req.MediaMime,
		MediaSize:        req.MediaSize,
		VoiceDurationMs:  req.VoiceDurationMs,
		ReplyToMessageID: req.ReplyToMessageID,
		ClientID:         req.ClientID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"message": toMessageResponse(*msg)})
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := s.messages.List(c.Request.Context(), GetUserID(c), c.Param("id"), c.Query("before"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": toMessageResponses(page.Messages),
		"hasMore":  page.HasMore,
	})
}

type markDeliveredRequest struct {
	MessageIDs     []string `json:"messageIds"`
	ConversationID string   `json:"conversationId"`
}

func (s *Server) handleMarkDelivered(c *gin.Context) {
	var req markDeliveredRequest
	// An empty body marks every pending message.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	updated, err := s.messages.MarkDelivered(c.Request.Context(), messaging.DeliveredInput{
		RecipientID:    GetUserID(c),
		MessageIDs:     req.MessageIDs,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toMessageResponses(updated)})
}

type markSeenRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (s *Server) handleMarkSeen(c *gin.Context) {
	var req markSeenRequest
	// An empty body marks the whole conversation.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	updated, err := s.messages.MarkSeen(c.Request.Context(), messaging.SeenInput{
		RecipientID:    GetUserID(c),
		ConversationID: c.Param("id"),
		MessageIDs:     req.MessageIDs,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toMessageResponses(updated)})
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	if err := s.messages.DeleteForEveryone(c.Request.Context(), GetUserID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCountUnread(c *gin.Context) {
	n, err := s.messages.CountUnread(c.Request.Context(), GetUserID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (s *Server) handleToggleReaction(c *gin.Context) {
	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "emoji is required")
		return
	}

	res, err := s.reactions.Toggle(c.Request.Context(), messaging.ToggleInput{
		MessageID: c.Param("id"),
		UserID:    GetUserID(c),
		Emoji:     req.Emoji,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReactionResponse(*res))
}
