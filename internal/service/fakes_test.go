package service

import (
	"Parley/internal/api/config"
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/kafka"
	"Parley/internal/pkg/mongo"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
)

// memMessageRepo 内存版消息存储，条件更新语义与 Mongo 实现一致
type memMessageRepo struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*mongo.Message

	createErr error
	listErr   error
	readErr   error
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{docs: make(map[primitive.ObjectID]*mongo.Message)}
}

func clone(m *mongo.Message) *mongo.Message {
	c := *m
	return &c
}

func (r *memMessageRepo) Create(_ context.Context, msg *mongo.Message) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	msg.Status = consts.MessageStatusSent
	msg.IsRead = false
	r.docs[msg.ID] = clone(msg)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id primitive.ObjectID) (*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.docs[id]
	if !ok {
		return nil, mongodrv.ErrNoDocuments
	}
	return clone(m), nil
}

func (r *memMessageRepo) apply(m *mongo.Message, target string, at time.Time) {
	m.Status = target
	m.UpdatedAt = at
	switch target {
	case consts.MessageStatusDelivered:
		m.DeliveredAt = &at
	case consts.MessageStatusRead:
		m.IsRead = true
		m.ReadAt = &at
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
	}
}

func (r *memMessageRepo) AdvanceStatus(_ context.Context, id primitive.ObjectID, target string, at time.Time) (*mongo.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.docs[id]
	if !ok {
		return nil, false, mongodrv.ErrNoDocuments
	}
	if !slices.Contains(mongo.LowerStatuses(target), m.Status) {
		return clone(m), false, nil
	}
	r.apply(m, target, at)
	return clone(m), true, nil
}

func (r *memMessageRepo) MarkConversationRead(_ context.Context, key string, receiverID uint64, at time.Time) (int64, error) {
	if r.readErr != nil {
		return 0, r.readErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.docs {
		if m.ConversationKey == key && m.ReceiverID == receiverID && m.Status != consts.MessageStatusRead {
			r.apply(m, consts.MessageStatusRead, at)
			n++
		}
	}
	return n, nil
}

func (r *memMessageRepo) MarkDeliveredForReceiver(_ context.Context, receiverID uint64, batch string, at time.Time) ([]*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*mongo.Message
	for _, m := range r.docs {
		if m.ReceiverID == receiverID && m.Status == consts.MessageStatusSent {
			r.apply(m, consts.MessageStatusDelivered, at)
			m.DeliveryBatch = batch
			res = append(res, clone(m))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *memMessageRepo) UpdateContent(_ context.Context, id primitive.ObjectID, senderID uint64, content string, editableSince, at time.Time) (*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.docs[id]
	if !ok || m.SenderID != senderID || m.IsDeleted || m.CreatedAt.Before(editableSince) {
		return nil, mongodrv.ErrNoDocuments
	}
	m.Content = content
	m.EditedAt = &at
	m.UpdatedAt = at
	return clone(m), nil
}

func (r *memMessageRepo) SoftDelete(_ context.Context, id primitive.ObjectID, senderID uint64, at time.Time) (*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.docs[id]
	if !ok {
		return nil, mongodrv.ErrNoDocuments
	}
	if m.SenderID == senderID && !m.IsDeleted {
		m.IsDeleted = true
		m.Content = consts.DeletedMessageContent
		m.UpdatedAt = at
	}
	return clone(m), nil
}

func (r *memMessageRepo) ListPage(_ context.Context, key string, page, pageSize int) ([]*mongo.Message, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*mongo.Message
	for _, m := range r.docs {
		if m.ConversationKey == key {
			all = append(all, clone(m))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []*mongo.Message{}, nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], nil
}

func (r *memMessageRepo) CountUnreadByConversation(_ context.Context, receiverID uint64, keys []string) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make(map[string]int64)
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	for _, m := range r.docs {
		if m.ReceiverID == receiverID && want[m.ConversationKey] && m.Status != consts.MessageStatusRead {
			res[m.ConversationKey]++
		}
	}
	return res, nil
}

func (r *memMessageRepo) count(match func(m *mongo.Message) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.docs {
		if match(m) {
			n++
		}
	}
	return n
}

func (r *memMessageRepo) CountSent(_ context.Context, userID uint64) (int64, error) {
	return r.count(func(m *mongo.Message) bool { return m.SenderID == userID }), nil
}

func (r *memMessageRepo) CountReceived(_ context.Context, userID uint64) (int64, error) {
	return r.count(func(m *mongo.Message) bool { return m.ReceiverID == userID }), nil
}

func (r *memMessageRepo) CountUnread(_ context.Context, userID uint64) (int64, error) {
	return r.count(func(m *mongo.Message) bool {
		return m.ReceiverID == userID && m.Status != consts.MessageStatusRead
	}), nil
}

func (r *memMessageRepo) get(id string) *mongo.Message {
	oid, _ := primitive.ObjectIDFromHex(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.docs[oid])
}

// memConversationRepo 会话摘要，按 peer key 去重
type memConversationRepo struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
	err   error
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{convs: make(map[string]*model.Conversation)}
}

func (r *memConversationRepo) Upsert(_ context.Context, peerKey string, userA, userB uint64, lastMessageID string, at time.Time) (*model.Conversation, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if userA > userB {
		userA, userB = userB, userA
	}
	c, ok := r.convs[peerKey]
	if !ok {
		c = &model.Conversation{ID: uint64(len(r.convs) + 1), PeerKey: peerKey, UserA: userA, UserB: userB, CreatedAt: at}
		r.convs[peerKey] = c
	}
	if !at.Before(c.LastMessageAt) {
		c.LastMessageID = lastMessageID
		c.LastMessageAt = at
	}
	c.UpdatedAt = at
	cp := *c
	return &cp, nil
}

func (r *memConversationRepo) GetByPeerKey(_ context.Context, peerKey string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[peerKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memConversationRepo) ListForUser(_ context.Context, userID uint64) ([]*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*model.Conversation, 0)
	for _, c := range r.convs {
		if c.UserA == userID || c.UserB == userID {
			cp := *c
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LastMessageAt.After(res[j].LastMessageAt) })
	return res, nil
}

func (r *memConversationRepo) CountForUser(ctx context.Context, userID uint64) (int64, error) {
	list, _ := r.ListForUser(ctx, userID)
	return int64(len(list)), nil
}

type fakeUserService struct {
	users map[uint64]*dto.UserSimpleDTO

	err         error
	hadDeadline bool
}

func newFakeUserService(ids ...uint64) *fakeUserService {
	s := &fakeUserService{users: make(map[uint64]*dto.UserSimpleDTO)}
	for _, id := range ids {
		s.users[id] = &dto.UserSimpleDTO{UserID: id, DisplayName: "user"}
	}
	return s
}

func (s *fakeUserService) GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) (map[uint64]*dto.UserSimpleDTO, error) {
	_, s.hadDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	res := make(map[uint64]*dto.UserSimpleDTO)
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			res[id] = u
		}
	}
	return res, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[uint64]bool
}

func newFakePresence(ids ...uint64) *fakePresence {
	p := &fakePresence{online: make(map[uint64]bool)}
	for _, id := range ids {
		p.online[id] = true
	}
	return p
}

func (p *fakePresence) IsOnline(userID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePresence) Snapshot() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]uint64, 0, len(p.online))
	for id := range p.online {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

type publishedEvent struct {
	channel string
	event   *dto.WsEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) record(channel string, ev *dto.WsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel: channel, event: ev})
}

func (p *fakePublisher) ToUser(_ context.Context, userID uint64, ev *dto.WsEvent) {
	p.record(UserChannel(userID), ev)
}

func (p *fakePublisher) ToConversation(_ context.Context, key string, ev *dto.WsEvent) {
	p.record(ConversationChannel(key), ev)
}

func (p *fakePublisher) Broadcast(_ context.Context, ev *dto.WsEvent) {
	p.record(consts.IMPresenceKey, ev)
}

// sent 返回发往 channel 的指定事件
func (p *fakePublisher) sent(channel, event string) []*dto.WsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []*dto.WsEvent
	for _, e := range p.events {
		if e.channel == channel && e.event.Event == event {
			res = append(res, e.event)
		}
	}
	return res
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []*kafka.MessageEvent
}

func (e *fakeEmitter) Emit(_ context.Context, ev *kafka.MessageEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		res = append(res, ev.Type)
	}
	return res
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type imFixture struct {
	svc       *imServiceImpl
	messages  *memMessageRepo
	convs     *memConversationRepo
	users     *fakeUserService
	presence  *fakePresence
	publisher *fakePublisher
	events    *fakeEmitter
	clock     *testClock
	backlog   *BacklogReconciler
}

func newIMFixture(online ...uint64) *imFixture {
	f := &imFixture{
		messages:  newMemMessageRepo(),
		convs:     newMemConversationRepo(),
		users:     newFakeUserService(1, 2, 3),
		presence:  newFakePresence(online...),
		publisher: &fakePublisher{},
		events:    &fakeEmitter{},
		clock:     &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	svc := NewIMService(f.messages, f.convs, f.users, f.presence, f.publisher, f.events, config.IMConfig{}).(*imServiceImpl)
	svc.now = f.clock.Now
	f.svc = svc

	f.backlog = NewBacklogReconciler(f.messages, f.publisher, f.events, time.Second)
	f.backlog.now = f.clock.Now
	return f
}

func (f *imFixture) send(senderID, receiverID uint64, content string) *dto.MessageDTO {
	msg, err := f.svc.SendMessage(context.Background(), senderID, &dto.SendMessageReq{ReceiverID: receiverID, Content: content})
	if err != nil {
		panic(err)
	}
	f.clock.Advance(time.Second)
	return msg
}
