// Package api exposes the chat service over HTTP. Every response uses the
// envelope from pkg/response and, behind the gate, carries a renewed credential.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/response"
	"github.com/mahaj/chatwithme/pkg/service"
)

const maxBodyBytes = 1 << 20

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User model.Identity `json:"user"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	IsAdmin  bool   `json:"isAdmin"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
	IsAdmin  *bool   `json:"isAdmin"`
}

type AccessChatRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type CreateGroupRequest struct {
	Name  string   `json:"name" validate:"required"`
	Users []string `json:"users" validate:"required"`
}

type RenameGroupRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	ChatName string `json:"chatName" validate:"required"`
}

type GroupMemberRequest struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type SendMessageRequest struct {
	ChatID  string `json:"chatId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type LikeMessageRequest struct {
	MessageID int64 `json:"messageId,string" validate:"required"`
}

type Handler struct {
	svc      *service.ChatService
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc *service.ChatService, log *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), log: log}
}

// decode reads a JSON body into dst and validates it. An empty body or a
// missing required field is MissingField, a body that is not JSON of the
// right shape is InvalidRequest, and any other rule is RequirementNotMet.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", common.ErrorMissingField)
		}
		return fmt.Errorf("%w: %w", common.ErrorInvalidRequest, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					return fmt.Errorf("%w: %s", common.ErrorMissingField, fe.Field())
				}
			}
		}
		return fmt.Errorf("%w: %w", common.ErrorRequirementNotMet, err)
	}
	return nil
}

// caller returns the identity the gate attached to the request.
func caller(r *http.Request) model.Identity {
	identity, _ := auth.IdentityFrom(r.Context())
	return identity
}

func ok(w http.ResponseWriter, r *http.Request, code int, message string, data any) {
	response.Write(w, code, response.New(true, message, data, auth.CredentialFrom(r.Context()).String()))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.log, err)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	identity, cred, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Write(w, http.StatusOK, response.New(true, response.MsgSuccess, LoginResponse{User: identity}, cred.String()))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	identity, err := h.svc.Register(r.Context(), caller(r), service.RegisterInput{
		Name: req.Name, Email: req.Email, Password: req.Password, IsAdmin: req.IsAdmin,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusCreated, response.MsgCreated, identity)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	identity, err := h.svc.UpdateUser(r.Context(), caller(r), r.PathValue("id"), service.UpdateUserInput{
		Name: req.Name, Email: req.Email, Password: req.Password, IsAdmin: req.IsAdmin,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgUpdated, identity)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.SearchUsers(r.Context(), caller(r), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgSuccess, users)
}

func (h *Handler) AccessChat(w http.ResponseWriter, r *http.Request) {
	var req AccessChatRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	chat, err := h.svc.AccessChat(r.Context(), caller(r), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgSuccess, chat)
}

func (h *Handler) FetchChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.FetchChats(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgSuccess, chats)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	chat, err := h.svc.CreateGroup(r.Context(), caller(r), req.Name, req.Users)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusCreated, response.MsgCreated, chat)
}

func (h *Handler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	chat, err := h.svc.RenameGroup(r.Context(), caller(r), req.ChatID, req.ChatName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgUpdated, chat)
}

func (h *Handler) AddToGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupMemberRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	chat, err := h.svc.AddToGroup(r.Context(), caller(r), req.ChatID, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgUpdated, chat)
}

func (h *Handler) RemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupMemberRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	chat, err := h.svc.RemoveFromGroup(r.Context(), caller(r), req.ChatID, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgUpdated, chat)
}

func (h *Handler) OnlineMembers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.OnlineMembers(r.Context(), caller(r), r.PathValue("chatId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgSuccess, users)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListMessages(r.Context(), caller(r), r.PathValue("chatId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgSuccess, msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), caller(r), req.ChatID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusCreated, response.MsgCreated, msg)
}

func (h *Handler) LikeMessage(w http.ResponseWriter, r *http.Request) {
	var req LikeMessageRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.svc.LikeMessage(r.Context(), caller(r), req.MessageID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, response.MsgUpdated, msg)
}

func Ping(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, http.StatusOK, response.New(true, response.MsgSuccess, map[string]string{"hello": "world"}, ""))
}

func NoRoute(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, http.StatusNotFound, response.New(false, response.MsgNoRoute, nil, ""))
}
