// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package botsession

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"go.mau.fi/util/retryafter"

	"github.com/aiku/filerelay/pkg/botsession/mmtext"
)

const (
	defaultRetryAfter = 5 * time.Second
	defaultPageSize   = 10
	maxPageSize       = 200
	callbackDataKey   = "callback_data"
)

// MattermostSession is a Session backed by the Mattermost REST API. It acts
// as a single logged-in user and reaches bots through direct channels.
type MattermostSession struct {
	client   *model.Client4
	userID   string
	username string

	// channels maps bot usernames to direct channel IDs.
	channels *exsync.Map[string, string]
	log      zerolog.Logger
}

var _ Session = (*MattermostSession)(nil)

// NewMattermostSession wraps an authenticated client. Connect must be called
// before use.
func NewMattermostSession(client *model.Client4, log zerolog.Logger) *MattermostSession {
	return &MattermostSession{
		client:   client,
		channels: exsync.NewMap[string, string](),
		log:      log.With().Str("component", "mm_session").Logger(),
	}
}

// Connect verifies the session token and records the relay's own user ID.
func (s *MattermostSession) Connect(ctx context.Context) error {
	if s.client == nil {
		return ErrNotLoggedIn
	}
	me, resp, err := s.client.GetMe(ctx, "")
	if err != nil {
		return wrapErr("verify Mattermost session", resp, err)
	}
	s.userID = me.Id
	s.username = me.Username
	s.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return nil
}

func (s *MattermostSession) UserID() string {
	return s.userID
}

func (s *MattermostSession) Username() string {
	return s.username
}

// channelFor resolves the direct channel with bot, creating it if needed.
func (s *MattermostSession) channelFor(ctx context.Context, bot string) (string, error) {
	if s.userID == "" {
		return "", ErrNotLoggedIn
	}
	if channelID, ok := s.channels.Get(bot); ok {
		return channelID, nil
	}
	user, resp, err := s.client.GetUserByUsername(ctx, strings.TrimPrefix(bot, "@"), "")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrBotNotFound, bot)
		}
		return "", wrapErr("look up bot "+bot, resp, err)
	}
	channel, resp, err := s.client.CreateDirectChannel(ctx, s.userID, user.Id)
	if err != nil {
		return "", wrapErr("open direct channel with "+bot, resp, err)
	}
	s.channels.Set(bot, channel.Id)
	s.log.Debug().Str("bot", bot).Str("channel_id", channel.Id).Msg("Resolved bot channel")
	return channel.Id, nil
}

func (s *MattermostSession) RecentMessages(ctx context.Context, bot string, limit int, after int64) ([]*Message, error) {
	channelID, err := s.channelFor(ctx, bot)
	if err != nil {
		return nil, err
	}
	perPage := limit
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	perPage = min(perPage, maxPageSize)

	postList, resp, err := s.client.GetPostsForChannel(ctx, channelID, 0, perPage, "", false, false)
	if err != nil {
		return nil, wrapErr("fetch posts", resp, err)
	}

	// Newest first.
	posts := postList.ToSlice()
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreateAt > posts[j].CreateAt
	})

	messages := make([]*Message, 0, len(posts))
	for _, post := range posts {
		// Skip system messages.
		if post.Type != "" && post.Type != model.PostTypeDefault {
			continue
		}
		if after > 0 && post.CreateAt <= after {
			continue
		}
		messages = append(messages, s.convertPost(ctx, post))
		if len(messages) == perPage {
			break
		}
	}
	return messages, nil
}

func (s *MattermostSession) convertPost(ctx context.Context, post *model.Post) *Message {
	return &Message{
		ID:       post.Id,
		Seq:      post.CreateAt,
		SenderID: post.UserId,
		FromSelf: post.UserId == s.userID,
		Text:     postText(post),
		Files:    s.postFiles(ctx, post),
		Buttons:  postButtons(post),
	}
}

// postText joins the post body with the visible attachment text.
func postText(post *model.Post) string {
	parts := []string{post.Message}
	for _, att := range post.Attachments() {
		parts = append(parts, att.Pretext, att.Title, att.Text)
	}
	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return mmtext.Plain(strings.Join(nonEmpty, "\n"))
}

func postButtons(post *model.Post) []Button {
	var buttons []Button
	for _, att := range post.Attachments() {
		for _, action := range att.Actions {
			if action == nil || action.Id == "" {
				continue
			}
			payload := action.Id
			if action.Integration != nil {
				if data, ok := action.Integration.Context[callbackDataKey].(string); ok && data != "" {
					payload = data
				}
			}
			buttons = append(buttons, Button{
				ID:      action.Id,
				Label:   action.Name,
				Payload: payload,
				Cookie:  action.Cookie,
			})
		}
	}
	return buttons
}

func (s *MattermostSession) postFiles(ctx context.Context, post *model.Post) []File {
	if post.Metadata != nil && len(post.Metadata.Files) > 0 {
		files := make([]File, 0, len(post.Metadata.Files))
		for _, info := range post.Metadata.Files {
			files = append(files, File{ID: info.Id, Name: info.Name, Size: info.Size})
		}
		return files
	}
	if len(post.FileIds) == 0 {
		return nil
	}
	files := make([]File, 0, len(post.FileIds))
	for _, fileID := range post.FileIds {
		info, _, err := s.client.GetFileInfo(ctx, fileID)
		if err != nil {
			s.log.Debug().Err(err).Str("file_id", fileID).Msg("Failed to get file info")
			files = append(files, File{ID: fileID})
			continue
		}
		files = append(files, File{ID: info.Id, Name: info.Name, Size: info.Size})
	}
	return files
}

func (s *MattermostSession) SendText(ctx context.Context, bot, text string) error {
	channelID, err := s.channelFor(ctx, bot)
	if err != nil {
		return err
	}
	_, resp, err := s.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: text})
	if err != nil {
		return wrapErr("create post", resp, err)
	}
	return nil
}

func (s *MattermostSession) PressButton(ctx context.Context, bot string, msg *Message, btn Button) error {
	if msg == nil {
		return fmt.Errorf("%w: no message", ErrButtonNotFound)
	}
	resp, err := s.client.DoPostActionWithCookie(ctx, msg.ID, btn.ID, "", btn.Cookie)
	if err != nil {
		return wrapErr("press button "+btn.Payload, resp, err)
	}
	return nil
}

func (s *MattermostSession) ForwardMessage(ctx context.Context, bot string, msg *Message) error {
	channelID, err := s.channelFor(ctx, bot)
	if err != nil {
		return err
	}
	fileIDs := make([]string, 0, len(msg.Files))
	for _, file := range msg.Files {
		uploadedID, err := s.copyFile(ctx, channelID, file)
		if err != nil {
			return err
		}
		fileIDs = append(fileIDs, uploadedID)
	}

	post := &model.Post{ChannelId: channelID, FileIds: fileIDs}
	if len(fileIDs) == 0 {
		post.Message = msg.Text
	}
	_, resp, err := s.client.CreatePost(ctx, post)
	if err != nil {
		return wrapErr("create forwarded post", resp, err)
	}
	s.log.Debug().Str("bot", bot).Str("source_post_id", msg.ID).Int("files", len(fileIDs)).Msg("Forwarded message")
	return nil
}

// copyFile downloads a file and uploads it into channelID.
func (s *MattermostSession) copyFile(ctx context.Context, channelID string, file File) (string, error) {
	data, resp, err := s.client.GetFile(ctx, file.ID)
	if err != nil {
		return "", wrapErr("download file "+file.ID, resp, err)
	}
	filename := file.Name
	if filename == "" {
		filename = "upload"
	}
	uploadResp, resp, err := s.client.UploadFile(ctx, data, channelID, filename)
	if err != nil {
		return "", wrapErr("upload file "+filename, resp, err)
	}
	if len(uploadResp.FileInfos) == 0 {
		return "", ErrNoFiles
	}
	return uploadResp.FileInfos[0].Id, nil
}

// wrapErr turns flood control responses into *RateLimitedError and wraps
// everything else.
func wrapErr(action string, resp *model.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: retryAfter(resp.Header)}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func retryAfter(header http.Header) time.Duration {
	if value := header.Get("Retry-After"); value != "" {
		return retryafter.Parse(value, defaultRetryAfter)
	}
	if value := header.Get("X-Ratelimit-Reset"); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
