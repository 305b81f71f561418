package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"guardianlink/internal/chat"
	"guardianlink/internal/identity"
	"guardianlink/internal/storage"
)

// TODO limit reading from body

type parsers struct {
	authPool  fastjson.ParserPool
	chatPool  fastjson.ParserPool
	groupPool fastjson.ParserPool
	miscPool  fastjson.ParserPool
}

type handler struct {
	logger      *zap.SugaredLogger
	store       *storage.Store
	identity    *identity.Service
	coordinator *chat.Coordinator
	parsers     parsers
}

// parseBody reads and parses the request body with the given pool's parser.
// The caller must hold the parser until it is done with the value.
func parseBody(pool *fastjson.ParserPool, r *http.Request) (*fastjson.Parser, *fastjson.Value, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	p := pool.Get()
	v, err := p.ParseBytes(body)
	if err != nil {
		pool.Put(p)
		return nil, nil, err
	}
	return p, v, nil
}

// fail maps service and storage sentinels onto HTTP statuses. Unmapped
// errors are logged and reported as 500 without detail.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, identity.ErrAccountPending):
		respondError(w, http.StatusForbidden, "Account is not verified yet")
	case errors.Is(err, identity.ErrCodeMismatch):
		respondError(w, http.StatusBadRequest, "Code is invalid or expired")
	case errors.Is(err, identity.ErrForbidden), errors.Is(err, chat.ErrForbidden):
		respondError(w, http.StatusForbidden, "Operation not permitted")
	case errors.Is(err, storage.ErrEmailTaken):
		respondError(w, http.StatusConflict, "Email is already registered")
	case errors.Is(err, storage.ErrUserNotExist):
		respondError(w, http.StatusNotFound, "User does not exist")
	case errors.Is(err, storage.ErrChatNotExist):
		respondError(w, http.StatusNotFound, "Chat does not exist")
	case errors.Is(err, storage.ErrChatExists):
		respondError(w, http.StatusConflict, "Chat already exists")
	case errors.Is(err, storage.ErrNotGroupChat):
		respondError(w, http.StatusBadRequest, "Chat is not a group chat")
	case errors.Is(err, storage.ErrAlreadyParticipant):
		respondError(w, http.StatusConflict, "User is already a participant")
	case errors.Is(err, storage.ErrNotParticipant):
		respondError(w, http.StatusNotFound, "User is not a participant")
	case errors.Is(err, storage.ErrRequestNotExist):
		respondError(w, http.StatusNotFound, "Request does not exist")
	case errors.Is(err, storage.ErrRequestSettled):
		respondError(w, http.StatusConflict, "Request is already settled")
	case errors.Is(err, storage.ErrOrgNotExist):
		respondError(w, http.StatusNotFound, "Organization does not exist")
	default:
		h.logger.Errorw("request failed", "uri", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	u, err := h.identity.Register(r.Context(), identity.RegisterParams{
		Name:           string(v.GetStringBytes("name")),
		Email:          string(v.GetStringBytes("email")),
		Password:       string(v.GetStringBytes("password")),
		Role:           storage.Role(v.GetStringBytes("role")),
		OrganizationID: string(v.GetStringBytes("organizationId")),
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) || errors.Is(err, identity.ErrForbidden) {
			h.fail(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respond(w, http.StatusCreated, "Account created, verification code sent", u)
}

// provisionUser creates the next account tier down the admin chain; the
// identity service decides whether the caller's role permits the target
// role.
func (h *handler) provisionUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	u, err := h.identity.ProvisionUser(r.Context(), claims.Role, identity.RegisterParams{
		Name:           string(v.GetStringBytes("name")),
		Email:          string(v.GetStringBytes("email")),
		Role:           storage.Role(v.GetStringBytes("role")),
		OrganizationID: string(v.GetStringBytes("organizationId")),
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) || errors.Is(err, identity.ErrForbidden) {
			h.fail(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respond(w, http.StatusCreated, "Account provisioned, invite sent", u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	u, token, err := h.identity.Login(r.Context(), string(v.GetStringBytes("email")), string(v.GetStringBytes("password")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Logged in", map[string]interface{}{
		"user":  u,
		"token": token,
	})
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	err = h.identity.Verify(r.Context(), string(v.GetStringBytes("email")), string(v.GetStringBytes("code")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Account verified", nil)
}

func (h *handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	if err := h.identity.RequestPasswordReset(r.Context(), string(v.GetStringBytes("email"))); err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "If the account exists, a reset code was sent", nil)
}

func (h *handler) passwordResetConfirm(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	err = h.identity.ResetPassword(r.Context(),
		string(v.GetStringBytes("email")),
		string(v.GetStringBytes("code")),
		string(v.GetStringBytes("password")),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Password updated", nil)
}

func (h *handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	if err := h.identity.ResendVerification(r.Context(), string(v.GetStringBytes("email"))); err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Verification code sent", nil)
}

func (h *handler) userByID(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.UserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "User found", u)
}

func (h *handler) createGuardian(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	p, v, err := parseBody(&h.parsers.authPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.authPool.Put(p)

	var childIDs []string
	for _, item := range v.GetArray("childIds") {
		childIDs = append(childIDs, string(item.GetStringBytes()))
	}

	u, err := h.identity.CreateGuardian(r.Context(), claims.Role, identity.RegisterParams{
		Name:  string(v.GetStringBytes("name")),
		Email: string(v.GetStringBytes("email")),
	}, childIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusCreated, "Guardian account created", u)
}

func (h *handler) createOrganization(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims.Role != storage.RoleSuperAdmin {
		respondError(w, http.StatusForbidden, "Operation not permitted")
		return
	}

	p, v, err := parseBody(&h.parsers.miscPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.miscPool.Put(p)

	name := string(v.GetStringBytes("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, `Missing field "name"`)
		return
	}

	o, err := h.store.CreateOrganization(r.Context(), storage.CreateOrganizationParams{
		Name: name,
		Address: storage.Address{
			Street:     string(v.GetStringBytes("address", "street")),
			City:       string(v.GetStringBytes("address", "city")),
			State:      string(v.GetStringBytes("address", "state")),
			Country:    string(v.GetStringBytes("address", "country")),
			PostalCode: string(v.GetStringBytes("address", "postalCode")),
		},
		CreatedBy: claims.UserID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusCreated, "Organization created", o)
}

func (h *handler) organizationByID(w http.ResponseWriter, r *http.Request) {
	o, err := h.store.OrganizationByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Organization found", o)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims.Role != storage.RoleGuardian {
		respondError(w, http.StatusForbidden, "Operation not permitted")
		return
	}

	status := storage.RequestStatus(r.URL.Query().Get("status"))
	requests, err := h.store.RequestsByGuardian(r.Context(), claims.UserID, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Requests listed", requests)
}

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims.Role != storage.RoleTeacher {
		respondError(w, http.StatusForbidden, "Operation not permitted")
		return
	}

	p, v, err := parseBody(&h.parsers.miscPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.miscPool.Put(p)

	guardianID := string(v.GetStringBytes("guardianId"))
	if guardianID == "" {
		respondError(w, http.StatusBadRequest, `Missing field "guardianId"`)
		return
	}

	req, err := h.store.CreateRequest(r.Context(), claims.UserID, guardianID, string(v.GetStringBytes("message")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusCreated, "Request created", req)
}

// settleRequest handles both accept and reject. Accepting a request also
// materializes the teacher-guardian private chat so the pair can talk right
// away.
func (h *handler) settleRequest(status storage.RequestStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r)

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Malformed request id")
			return
		}

		req, err := h.store.RequestByID(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if req.GuardianID != claims.UserID {
			respondError(w, http.StatusForbidden, "Operation not permitted")
			return
		}

		req, err = h.store.SettleRequest(r.Context(), id, status)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		data := map[string]interface{}{"request": req}
		if status == storage.RequestAccepted {
			c, err := h.coordinator.GetOrCreateChat(r.Context(), []string{req.TeacherID, req.GuardianID})
			if err != nil {
				h.fail(w, r, err)
				return
			}
			data["chat"] = c
		}

		respond(w, http.StatusOK, "Request "+string(status), data)
	}
}

func (h *handler) getOrCreateChat(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	p, v, err := parseBody(&h.parsers.chatPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.chatPool.Put(p)

	participantID := string(v.GetStringBytes("participantId"))
	if participantID == "" {
		respondError(w, http.StatusBadRequest, `Missing field "participantId"`)
		return
	}

	c, err := h.coordinator.GetOrCreateChat(r.Context(), []string{claims.UserID, participantID})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Chat ready", c)
}

func (h *handler) listChats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	summaries, err := h.store.ChatsByUser(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Chats listed", summaries)
}

func (h *handler) chatMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID := chi.URLParam(r, "chatId")

	c, err := h.store.FindChat(r.Context(), chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !c.HasParticipant(claims.UserID) {
		respondError(w, http.StatusForbidden, "Operation not permitted")
		return
	}

	messages, err := h.store.MessagesByChat(r.Context(), chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Messages listed", messages)
}

func (h *handler) createGroupChat(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	p, v, err := parseBody(&h.parsers.groupPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.groupPool.Put(p)

	var participants []string
	for _, item := range v.GetArray("participants") {
		participants = append(participants, string(item.GetStringBytes()))
	}

	c, err := h.coordinator.CreateGroupChat(r.Context(), claims.UserID, claims.Role, string(v.GetStringBytes("name")), participants)
	if err != nil {
		if errors.Is(err, chat.ErrForbidden) {
			h.fail(w, r, err)
			return
		}
		if errors.Is(err, storage.ErrChatExists) {
			h.fail(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respond(w, http.StatusCreated, "Group chat created", c)
}

func (h *handler) addGroupParticipants(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID := chi.URLParam(r, "chatId")

	p, v, err := parseBody(&h.parsers.groupPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.groupPool.Put(p)

	var userIDs []string
	for _, item := range v.GetArray("userIds") {
		userIDs = append(userIDs, string(item.GetStringBytes()))
	}
	if len(userIDs) == 0 {
		respondError(w, http.StatusBadRequest, `Missing field "userIds"`)
		return
	}

	c, err := h.coordinator.AddUsersToGroup(r.Context(), claims.UserID, chatID, userIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Participants added", c)
}

func (h *handler) removeGroupParticipant(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	c, err := h.coordinator.RemoveUserFromGroup(r.Context(), claims.UserID, chi.URLParam(r, "chatId"), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Participant removed", c)
}

func (h *handler) renameGroup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID := chi.URLParam(r, "chatId")

	p, v, err := parseBody(&h.parsers.groupPool, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON")
		return
	}
	defer h.parsers.groupPool.Put(p)

	name := string(v.GetStringBytes("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, `Missing field "name"`)
		return
	}

	c, err := h.coordinator.RenameGroup(r.Context(), claims.UserID, chatID, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Group renamed", c)
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	if err := h.coordinator.DeleteGroup(r.Context(), claims.UserID, chi.URLParam(r, "chatId")); err != nil {
		h.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, "Group deleted", nil)
}
