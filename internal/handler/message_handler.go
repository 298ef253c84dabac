/*
Package handler provides the HTTP surface of the messaging gateway.

This file serves the REST projection of message history: the caller's
conversation list and one paginated conversation. Both are read-only views
over the same store the gateway writes to.
*/
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"estatechat/internal/app/message"
	"estatechat/internal/app/user"
	"estatechat/internal/pkg/auth/jwt"
	"estatechat/internal/pkg/errs"
	"estatechat/internal/pkg/logx"
	"estatechat/internal/pkg/req"
	"estatechat/internal/pkg/resp"
)

// ConversationView is one entry of the caller's conversation list.
type ConversationView struct {
	Partner     user.Summary    `json:"partner"`
	LastMessage message.Message `json:"lastMessage"`
	UnreadCount int             `json:"unreadCount"`
}

// ConversationPage is one page of a conversation, oldest message first.
type ConversationPage struct {
	Partner  user.Summary      `json:"partner"`
	Messages []message.Message `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// HandleListConversations serves GET /api/messages/conversations.
func HandleListConversations(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		summaries, err := deps.Messages.Conversations(r.Context(), payload.ID)
		if err != nil {
			logx.Error(err, "Failed to list conversations", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrHistoryUnavailable))
			return
		}

		partnerIDs := make([]string, 0, len(summaries))
		for _, s := range summaries {
			partnerIDs = append(partnerIDs, s.PartnerID)
		}

		partners, err := deps.partnerSummaries(r.Context(), partnerIDs...)
		if err != nil {
			logx.Error(err, "Failed to resolve conversation partners", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrHistoryUnavailable))
			return
		}

		views := make([]ConversationView, 0, len(summaries))
		for _, s := range summaries {
			views = append(views, ConversationView{
				Partner:     partners[s.PartnerID],
				LastMessage: s.LastMessage,
				UnreadCount: s.UnreadCount,
			})
		}

		resp.RespondSuccess(w, r, views)
	}
}

// HandleGetConversation serves GET /api/messages/{userId}?limit=&offset=.
func HandleGetConversation(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		partnerID := strings.TrimSpace(chi.URLParam(r, "userId"))
		if partnerID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		limit, customErr := req.IntQuery(r, "limit", message.DefaultPageSize)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		offset, customErr := req.IntQuery(r, "offset", 0)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		page := message.Page{Limit: limit, Offset: offset}.Normalize()

		messages, err := deps.Messages.Conversation(r.Context(), payload.ID, partnerID, page)
		if err != nil {
			logx.Error(err, "Failed to load conversation", "user_id", payload.ID, "partner_id", partnerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrHistoryUnavailable))
			return
		}

		partners, err := deps.partnerSummaries(r.Context(), partnerID)
		if err != nil {
			logx.Error(err, "Failed to resolve conversation partner", "partner_id", partnerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrHistoryUnavailable))
			return
		}

		resp.RespondSuccess(w, r, ConversationPage{
			Partner:  partners[partnerID],
			Messages: messages,
			Limit:    page.Limit,
			Offset:   page.Offset,
		})
	}
}

// partnerSummaries resolves ids in one directory call. Users the directory no
// longer knows keep a summary carrying only their id.
func (deps *AppDeps) partnerSummaries(ctx context.Context, ids ...string) (map[string]user.Summary, error) {
	out := make(map[string]user.Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	found, err := deps.Directory.Lookup(ctx, ids...)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		identity, ok := found[id]
		if !ok {
			out[id] = user.Summary{ID: id}
			continue
		}

		avatar := ""
		if deps.Avatars != nil {
			avatar = deps.Avatars.AvatarURL(ctx, identity.AvatarRef)
		}
		out[id] = identity.Summary(avatar)
	}

	return out, nil
}
