package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/llm"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/protocol"
	"github.com/ripplechat/ripple/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	exportLimit     = 1000
)

type ConversationHandler struct {
	store    *store.Store
	registry *hub.Registry
	notifier *notify.Service
	llm      llm.Streamer // nil when no upstream is configured
}

func NewConversationHandler(st *store.Store, registry *hub.Registry, notifier *notify.Service, upstream llm.Streamer) *ConversationHandler {
	return &ConversationHandler{store: st, registry: registry, notifier: notifier, llm: upstream}
}

type conversationResponse struct {
	*domain.Conversation
	Members []*domain.Member `json:"members"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, convs, http.StatusOK)
}

type createConversationRequest struct {
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	GroupName    string   `json:"group_name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	MemberIDs    []string `json:"member_ids"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !domain.ValidConversationType(req.Type) {
		respondError(w, "invalid conversation type", http.StatusBadRequest)
		return
	}

	userID := UserIDFromContext(r.Context())
	switch req.Type {
	case domain.ConversationDirect:
		h.createDirect(w, r, userID, req)
	case domain.ConversationGroup:
		h.createGroup(w, r, userID, req)
	case domain.ConversationAIChat:
		h.createAIChat(w, r, userID, req)
	}
}

// createDirect dedups on the unordered member pair: repeating the
// request returns the existing conversation instead of a second row.
func (h *ConversationHandler) createDirect(w http.ResponseWriter, r *http.Request, userID string, req createConversationRequest) {
	ctx := r.Context()
	if len(req.MemberIDs) != 1 || req.MemberIDs[0] == userID {
		respondError(w, "a direct conversation needs exactly one other member", http.StatusBadRequest)
		return
	}
	otherID := req.MemberIDs[0]

	if _, err := h.store.GetUser(ctx, otherID); err != nil {
		respondDomainError(w, err)
		return
	}
	blocked, err := h.store.IsBlockedEither(ctx, userID, otherID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if blocked {
		respondError(w, "You cannot message this user", http.StatusForbidden)
		return
	}

	if existing, err := h.store.FindDirectConversation(ctx, userID, otherID); err == nil {
		h.respondWithMembers(w, r, existing, http.StatusOK)
		return
	}

	conv := &domain.Conversation{
		ID:          id.NewConversation(),
		Type:        domain.ConversationDirect,
		CreatedByID: userID,
	}
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		if err := h.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
		for _, uid := range []string{userID, otherID} {
			m := &domain.Member{ConversationID: conv.ID, UserID: uid, Role: domain.RoleMember}
			if err := h.store.AddMember(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Two first-POSTs can race past the find; the unique index on
		// the normalized member pair rejects the second insert, and the
		// loser returns the winner's row.
		if store.IsUniqueViolation(err) {
			if existing, ferr := h.store.FindDirectConversation(ctx, userID, otherID); ferr == nil {
				h.respondWithMembers(w, r, existing, http.StatusOK)
				return
			}
		}
		respondDomainError(w, err)
		return
	}
	h.respondWithMembers(w, r, conv, http.StatusCreated)
}

func (h *ConversationHandler) createGroup(w http.ResponseWriter, r *http.Request, userID string, req createConversationRequest) {
	ctx := r.Context()
	if strings.TrimSpace(req.GroupName) == "" {
		respondError(w, "group name is required", http.StatusBadRequest)
		return
	}
	if len(req.MemberIDs) == 0 {
		respondError(w, "a group needs at least one other member", http.StatusBadRequest)
		return
	}

	creator, err := h.store.GetUser(ctx, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	conv := &domain.Conversation{
		ID:          id.NewConversation(),
		Type:        domain.ConversationGroup,
		GroupName:   strings.TrimSpace(req.GroupName),
		Description: req.Description,
		CreatedByID: userID,
	}
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		if err := h.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
		owner := &domain.Member{ConversationID: conv.ID, UserID: userID, Role: domain.RoleOwner}
		if err := h.store.AddMember(ctx, owner); err != nil {
			return err
		}
		for _, uid := range req.MemberIDs {
			if uid == userID {
				continue
			}
			m := &domain.Member{ConversationID: conv.ID, UserID: uid, Role: domain.RoleMember}
			if err := h.store.AddMember(ctx, m); err != nil {
				return err
			}
		}
		sys := &domain.Message{
			ID:             id.NewMessage(),
			ConversationID: conv.ID,
			Type:           domain.MessageSystem,
			Content:        fmt.Sprintf("%s created the group", creator.Name),
		}
		return h.store.CreateMessage(ctx, sys)
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	for _, uid := range req.MemberIDs {
		if uid == userID {
			continue
		}
		h.notifier.NotifyAsync(ctx, notify.GroupInvite(uid, creator.Name, conv.ID, conv.GroupName))
	}
	h.respondWithMembers(w, r, conv, http.StatusCreated)
}

func (h *ConversationHandler) createAIChat(w http.ResponseWriter, r *http.Request, userID string, req createConversationRequest) {
	ctx := r.Context()
	if len(req.MemberIDs) > 0 {
		respondError(w, "an AI chat has no other members", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Chat"
	}
	conv := &domain.Conversation{
		ID:           id.NewConversation(),
		Type:         domain.ConversationAIChat,
		Title:        title,
		SystemPrompt: req.SystemPrompt,
		CreatedByID:  userID,
	}
	err := h.store.WithTx(ctx, func(ctx context.Context) error {
		if err := h.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
		m := &domain.Member{ConversationID: conv.ID, UserID: userID, Role: domain.RoleOwner}
		return h.store.AddMember(ctx, m)
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.respondWithMembers(w, r, conv, http.StatusCreated)
}

func (h *ConversationHandler) respondWithMembers(w http.ResponseWriter, r *http.Request, conv *domain.Conversation, status int) {
	members, err := h.store.ListMembers(r.Context(), conv.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, conversationResponse{Conversation: conv, Members: members}, status)
}

// member loads the conversation and the caller's membership row, or
// fails with the collapsed not-found error.
func (h *ConversationHandler) member(r *http.Request) (*domain.Conversation, *domain.Member, error) {
	userID := UserIDFromContext(r.Context())
	conv, err := h.store.GetConversationForMember(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		return nil, nil, domain.ErrConversationNotFound
	}
	m, err := h.store.GetMember(r.Context(), conv.ID, userID)
	if err != nil {
		return nil, nil, domain.ErrConversationNotFound
	}
	return conv, m, nil
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.respondWithMembers(w, r, conv, http.StatusOK)
}

type updateConversationRequest struct {
	Title        *string `json:"title"`
	GroupName    *string `json:"group_name"`
	Description  *string `json:"description"`
	SystemPrompt *string `json:"system_prompt"`
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	conv, m, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req updateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if conv.Type == domain.ConversationGroup && m.Role == domain.RoleMember {
		respondError(w, "only admins can update the group", http.StatusForbidden)
		return
	}

	if req.Title != nil {
		conv.Title = strings.TrimSpace(*req.Title)
	}
	if req.GroupName != nil {
		name := strings.TrimSpace(*req.GroupName)
		if conv.Type == domain.ConversationGroup && name == "" {
			respondError(w, "group name cannot be empty", http.StatusBadRequest)
			return
		}
		conv.GroupName = name
	}
	if req.Description != nil {
		conv.Description = *req.Description
	}
	if req.SystemPrompt != nil {
		conv.SystemPrompt = *req.SystemPrompt
	}

	if err := h.store.UpdateConversation(r.Context(), conv); err != nil {
		respondDomainError(w, err)
		return
	}

	room := hub.ConversationRoom(conv.ID)
	if conv.Type == domain.ConversationGroup {
		h.registry.Broadcast(room, protocol.EventGroupUpdated, protocol.GroupUpdated{Conversation: conv})
	} else {
		h.registry.Broadcast(room, protocol.EventConversationUpdated, protocol.ConversationUpdated{Conversation: conv})
	}
	respondJSON(w, conv, http.StatusOK)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, m, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if conv.Type == domain.ConversationGroup && m.Role != domain.RoleOwner {
		respondError(w, "only the owner can delete the group", http.StatusForbidden)
		return
	}

	if err := h.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *ConversationHandler) Pin(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := UserIDFromContext(r.Context())
	if err := h.store.SetMemberPinned(r.Context(), conv.ID, userID, req.Pinned); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"pinned": req.Pinned}, http.StatusOK)
}

func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	limit := parseIntQuery(r, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	cursor := r.URL.Query().Get("cursor")

	msgs, err := h.store.ListMessages(r.Context(), conv.ID, cursor, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	for _, m := range msgs {
		if m.IsDeleted {
			continue
		}
		if m.Attachments, err = h.store.ListAttachments(r.Context(), m.ID); err != nil {
			respondDomainError(w, err)
			return
		}
		if m.Reactions, err = h.store.ListReactions(r.Context(), m.ID); err != nil {
			respondDomainError(w, err)
			return
		}
	}

	// The next cursor is the oldest message on this page.
	next := ""
	if len(msgs) == limit {
		next = msgs[0].ID
	}
	respondJSON(w, map[string]any{"messages": msgs, "next_cursor": next}, http.StatusOK)
}

func (h *ConversationHandler) Export(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" {
		respondError(w, "format must be json or markdown", http.StatusBadRequest)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID, "", exportLimit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	members, err := h.store.ListMembers(r.Context(), conv.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if format == "json" {
		respondJSON(w, map[string]any{"conversation": conv, "messages": msgs}, http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, renderMarkdown(conv, members, msgs))
}

func renderMarkdown(conv *domain.Conversation, members []*domain.Member, msgs []*domain.Message) string {
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.UserID] = m.UserName
	}

	var b strings.Builder
	title := conv.Title
	if title == "" {
		title = conv.GroupName
	}
	if title == "" {
		title = "Conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	for _, m := range msgs {
		if m.IsDeleted {
			continue
		}
		sender := "AI"
		if m.Type == domain.MessageSystem {
			sender = "System"
		} else if m.SenderID != nil {
			if name, ok := names[*m.SenderID]; ok && name != "" {
				sender = name
			} else {
				sender = *m.SenderID
			}
		}
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", sender, m.CreatedAt.Format(time.RFC3339), m.Content)
	}
	return b.String()
}

func (h *ConversationHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if h.llm == nil {
		respondError(w, "AI not configured", http.StatusServiceUnavailable)
		return
	}

	transcript, err := h.transcript(r.Context(), conv.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if transcript == "" {
		respondError(w, "nothing to summarize", http.StatusBadRequest)
		return
	}

	summary, err := h.llm.Complete(r.Context(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Summarize the following conversation in a short paragraph."},
		{Role: llm.RoleUser, Content: transcript},
	})
	if err != nil {
		respondError(w, "generation failed", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{"summary": summary}, http.StatusOK)
}

func (h *ConversationHandler) SmartReplies(w http.ResponseWriter, r *http.Request) {
	conv, _, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if h.llm == nil {
		respondError(w, "AI not configured", http.StatusServiceUnavailable)
		return
	}

	transcript, err := h.transcript(r.Context(), conv.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if transcript == "" {
		respondJSON(w, map[string][]string{"replies": {}}, http.StatusOK)
		return
	}

	out, err := h.llm.Complete(r.Context(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Suggest three short replies to the last message, one per line, no numbering."},
		{Role: llm.RoleUser, Content: transcript},
	})
	if err != nil {
		respondError(w, "generation failed", http.StatusServiceUnavailable)
		return
	}

	replies := make([]string, 0, 3)
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			replies = append(replies, line)
		}
		if len(replies) == 3 {
			break
		}
	}
	respondJSON(w, map[string][]string{"replies": replies}, http.StatusOK)
}

func (h *ConversationHandler) transcript(ctx context.Context, conversationID string) (string, error) {
	msgs, err := h.store.ListContextMessages(ctx, conversationID, 20)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range msgs {
		who := "AI"
		if m.SenderID != nil {
			who = *m.SenderID
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	return b.String(), nil
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	conv, m, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if conv.Type != domain.ConversationGroup {
		respondError(w, "members can only be added to groups", http.StatusBadRequest)
		return
	}
	if m.Role == domain.RoleMember {
		respondError(w, "only admins can add members", http.StatusForbidden)
		return
	}

	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	newUser, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	added := &domain.Member{ConversationID: conv.ID, UserID: newUser.ID, Role: domain.RoleMember}
	if err := h.store.AddMember(r.Context(), added); err != nil {
		respondDomainError(w, err)
		return
	}
	added.UserName = newUser.Name

	h.registry.Broadcast(hub.ConversationRoom(conv.ID), protocol.EventGroupMemberAdded,
		protocol.GroupMemberAdded{ConversationID: conv.ID, Member: added})

	h.notifier.NotifyAsync(r.Context(), notify.GroupInvite(newUser.ID, m.UserName, conv.ID, conv.GroupName))
	respondJSON(w, added, http.StatusCreated)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	conv, m, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if conv.Type != domain.ConversationGroup {
		respondError(w, "members can only be removed from groups", http.StatusBadRequest)
		return
	}

	targetID := chi.URLParam(r, "userId")
	target, err := h.store.GetMember(r.Context(), conv.ID, targetID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// The owner can never be removed, not even by themselves; ownership
	// must be transferred first.
	if target.Role == domain.RoleOwner {
		respondError(w, "Cannot remove the owner", http.StatusForbidden)
		return
	}
	if targetID != m.UserID && m.Role == domain.RoleMember {
		respondError(w, "only admins can remove members", http.StatusForbidden)
		return
	}

	if err := h.store.RemoveMember(r.Context(), conv.ID, targetID); err != nil {
		respondDomainError(w, err)
		return
	}

	h.registry.Broadcast(hub.ConversationRoom(conv.ID), protocol.EventGroupMemberRemoved,
		protocol.GroupMemberRemoved{ConversationID: conv.ID, UserID: targetID})
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (h *ConversationHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	conv, m, err := h.member(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if conv.Type != domain.ConversationGroup {
		respondError(w, "roles only apply to groups", http.StatusBadRequest)
		return
	}
	if m.Role != domain.RoleOwner {
		respondError(w, "only the owner can change roles", http.StatusForbidden)
		return
	}

	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// OWNER is not assignable; there is exactly one and it never moves
	// through this endpoint.
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleMember {
		respondError(w, "role must be ADMIN or MEMBER", http.StatusBadRequest)
		return
	}

	targetID := chi.URLParam(r, "userId")
	target, err := h.store.GetMember(r.Context(), conv.ID, targetID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if target.Role == domain.RoleOwner {
		respondError(w, "Cannot change the owner's role", http.StatusForbidden)
		return
	}

	if err := h.store.UpdateMemberRole(r.Context(), conv.ID, targetID, req.Role); err != nil {
		respondDomainError(w, err)
		return
	}
	target.Role = req.Role
	respondJSON(w, target, http.StatusOK)
}
