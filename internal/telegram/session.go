package telegram

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/ppiankov/topicrelay/internal/relay"
)

// pageSize is the largest page messages.getReplies returns.
const pageSize = 100

// api is the subset of *tg.Client the session calls.
type api interface {
	ContactsResolveUsername(ctx context.Context, req *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesGetReplies(ctx context.Context, req *tg.MessagesGetRepliesRequest) (tg.MessagesMessagesClass, error)
	ChannelsGetForumTopics(ctx context.Context, req *tg.ChannelsGetForumTopicsRequest) (*tg.MessagesForumTopics, error)
}

type group struct {
	title   string
	channel *tg.InputChannel
}

func (g group) peer() tg.InputPeerClass {
	return &tg.InputPeerChannel{ChannelID: g.channel.ChannelID, AccessHash: g.channel.AccessHash}
}

// Session is an authorized connection. It implements relay.Fetcher.
type Session struct {
	api    api
	log    *zap.Logger
	groups map[string]group
}

func NewSession(a api, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{api: a, log: log, groups: make(map[string]group)}
}

// Topic is one forum topic of a group.
type Topic struct {
	ID     int
	Title  string
	Closed bool
	Pinned bool
}

// normalizeGroup turns "@name", "name" and t.me links into a username.
func normalizeGroup(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "telegram.me/")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, "/")

	switch {
	case s == "":
		return "", errors.Errorf("group %q: empty username", raw)
	case strings.HasPrefix(s, "+") || strings.HasPrefix(s, "joinchat/"):
		return "", errors.Errorf("group %q: invite links are not supported", raw)
	case strings.Contains(s, "/"):
		return "", errors.Errorf("group %q: only public usernames are supported", raw)
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return "", errors.Errorf("group %q: numeric ids are not supported, use the username", raw)
	}
	return s, nil
}

func (s *Session) resolve(ctx context.Context, raw string) (group, error) {
	username, err := normalizeGroup(raw)
	if err != nil {
		return group{}, err
	}
	if g, ok := s.groups[username]; ok {
		return g, nil
	}

	res, err := s.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return group{}, errors.Wrapf(err, "resolve %s", username)
	}

	p, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return group{}, errors.Errorf("resolve %s: %T is not a group with topics", username, res.Peer)
	}
	for _, chat := range res.Chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != p.ChannelID {
			continue
		}
		g := group{
			title:   ch.Title,
			channel: &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		}
		s.groups[username] = g
		s.log.Debug("resolved group", zap.String("group", username), zap.Int64("channel_id", ch.ID))
		return g, nil
	}
	return group{}, errors.Errorf("resolve %s: channel %d missing from response", username, p.ChannelID)
}

// Fetch returns the messages of one topic inside the window, oldest first.
// The batch title is the group's title.
func (s *Session) Fetch(ctx context.Context, req relay.FetchRequest) (relay.Batch, error) {
	g, err := s.resolve(ctx, req.Group)
	if err != nil {
		return relay.Batch{}, err
	}

	var msgs []relay.Message
	if req.Window.Reverse {
		msgs, err = s.fetchForward(ctx, g, req.TopicID, req.Window)
	} else {
		msgs, err = s.fetchBackward(ctx, g, req.TopicID, req.Window)
	}
	if err != nil {
		return relay.Batch{}, errors.Wrapf(err, "topic %d", req.TopicID)
	}
	return relay.Batch{Title: g.title, Messages: msgs}, nil
}

// fetchForward walks from the window anchor towards newer messages.
func (s *Session) fetchForward(ctx context.Context, g group, topicID int, w relay.Window) ([]relay.Message, error) {
	var (
		out    []relay.Message
		cursor = w.OffsetID
	)
	for w.Limit == 0 || len(out) < w.Limit {
		size := pageSize
		if w.Limit > 0 {
			size = min(size, w.Limit-len(out))
		}

		req := &tg.MessagesGetRepliesRequest{
			Peer:      g.peer(),
			MsgID:     topicID,
			Limit:     size,
			AddOffset: -size,
		}
		switch {
		case cursor > 0:
			req.OffsetID = cursor + 1
			req.MinID = cursor
		case w.DateAnchored():
			req.OffsetDate = int(w.OffsetDate.Unix())
		default:
			req.OffsetID = 1
		}

		page, err := s.page(ctx, req)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(page, func(a, b relay.Message) int { return a.ID - b.ID })

		added := 0
		for _, m := range page {
			if m.ID <= cursor || !inWindow(m, w) {
				continue
			}
			out = append(out, m)
			cursor = m.ID
			added++
		}
		if added == 0 || len(page) < size {
			break
		}
	}
	return trim(out, w.Limit), nil
}

// fetchBackward returns the newest messages below the offset.
func (s *Session) fetchBackward(ctx context.Context, g group, topicID int, w relay.Window) ([]relay.Message, error) {
	var (
		out    []relay.Message
		cursor = w.OffsetID
	)
	for w.Limit == 0 || len(out) < w.Limit {
		size := pageSize
		if w.Limit > 0 {
			size = min(size, w.Limit-len(out))
		}

		page, err := s.page(ctx, &tg.MessagesGetRepliesRequest{
			Peer:     g.peer(),
			MsgID:    topicID,
			OffsetID: cursor,
			Limit:    size,
		})
		if err != nil {
			return nil, err
		}
		slices.SortFunc(page, func(a, b relay.Message) int { return b.ID - a.ID })

		added := 0
		for _, m := range page {
			if cursor > 0 && m.ID >= cursor {
				continue
			}
			out = append(out, m)
			cursor = m.ID
			added++
		}
		if added == 0 || len(page) < size {
			break
		}
	}
	out = trim(out, w.Limit)
	slices.Reverse(out)
	return out, nil
}

func (s *Session) page(ctx context.Context, req *tg.MessagesGetRepliesRequest) ([]relay.Message, error) {
	s.log.Debug("get replies",
		zap.Int("topic_id", req.MsgID),
		zap.Int("offset_id", req.OffsetID),
		zap.Int("offset_date", req.OffsetDate),
		zap.Int("add_offset", req.AddOffset),
		zap.Int("min_id", req.MinID),
		zap.Int("limit", req.Limit))

	res, err := s.api.MessagesGetReplies(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "get replies")
	}

	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	default:
		return nil, errors.Errorf("unexpected replies result %T", res)
	}

	out := make([]relay.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := convertMessage(m); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func inWindow(m relay.Message, w relay.Window) bool {
	if w.OffsetID > 0 && m.ID <= w.OffsetID {
		return false
	}
	if w.DateAnchored() && m.Date.Before(w.OffsetDate) {
		return false
	}
	return true
}

func trim(msgs []relay.Message, limit int) []relay.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[:limit]
	}
	return msgs
}

// convertMessage maps a Telegram message. Service messages keep their id
// and date with empty text; empty placeholders are dropped.
func convertMessage(m tg.MessageClass) (relay.Message, bool) {
	switch m := m.(type) {
	case *tg.Message:
		return relay.Message{
			ID:       m.ID,
			Date:     time.Unix(int64(m.Date), 0).UTC(),
			SenderID: senderID(m.FromID),
			Text:     m.Message,
		}, true
	case *tg.MessageService:
		return relay.Message{
			ID:       m.ID,
			Date:     time.Unix(int64(m.Date), 0).UTC(),
			SenderID: senderID(m.FromID),
		}, true
	default:
		return relay.Message{}, false
	}
}

func senderID(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChannel:
		return p.ChannelID
	case *tg.PeerChat:
		return p.ChatID
	default:
		return 0
	}
}

// Topics lists the forum topics of a group. The first return value is the
// group's title.
func (s *Session) Topics(ctx context.Context, rawGroup string) (string, []Topic, error) {
	g, err := s.resolve(ctx, rawGroup)
	if err != nil {
		return "", nil, err
	}

	res, err := s.api.ChannelsGetForumTopics(ctx, &tg.ChannelsGetForumTopicsRequest{
		Channel: g.channel,
		Limit:   pageSize,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "get forum topics")
	}

	topics := make([]Topic, 0, len(res.Topics))
	for _, t := range res.Topics {
		ft, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		topics = append(topics, Topic{ID: ft.ID, Title: ft.Title, Closed: ft.Closed, Pinned: ft.Pinned})
	}
	return g.title, topics, nil
}
