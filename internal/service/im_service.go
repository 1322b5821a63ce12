package service

import (
	"Parley/internal/api/config"
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/kafka"
	"Parley/internal/pkg/mongo"
	"Parley/internal/pkg/util"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IMService 单聊消息投递与状态同步
type IMService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetMessages(ctx context.Context, viewerID uint64, conversationKey string, page, limit int) (*dto.MessagePageDTO, error)
	MarkConversationRead(ctx context.Context, viewerID uint64, conversationKey string) (int64, error)
	AckDelivered(ctx context.Context, userID uint64, messageID string) (bool, error)
	HandleSendHint(ctx context.Context, userID uint64, messageID, conversationKey string) error
	PublishTyping(ctx context.Context, userID uint64, conversationKey string, isTyping bool) error
	EditMessage(ctx context.Context, userID uint64, messageID, content string) (*dto.MessageDTO, error)
	DeleteMessage(ctx context.Context, userID uint64, messageID string) error
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	GetStats(ctx context.Context, userID uint64) (*dto.IMStatsDTO, error)
	CheckParticipant(userID uint64, conversationKey string) error
	OnlineUsers() []uint64
}

// PresenceView 在线状态只读视图
type PresenceView interface {
	IsOnline(userID uint64) bool
	Snapshot() []uint64
}

type imServiceImpl struct {
	messageRepo mongo.MessageRepo
	convRepo    repository.ConversationRepo
	userSvc     UserService
	presence    PresenceView
	publisher   Publisher
	events      EventEmitter
	cfg         config.IMConfig
	now         func() time.Time
}

func NewIMService(
	messageRepo mongo.MessageRepo,
	convRepo repository.ConversationRepo,
	userSvc UserService,
	presence PresenceView,
	publisher Publisher,
	events EventEmitter,
	cfg config.IMConfig,
) IMService {
	return &imServiceImpl{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		userSvc:     userSvc,
		presence:    presence,
		publisher:   publisher,
		events:      events,
		cfg:         normalizeIMConfig(cfg),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func normalizeIMConfig(cfg config.IMConfig) config.IMConfig {
	def := config.DefaultIMConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = def.EditWindow
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	return cfg
}

// SendMessage 唯一的持久化入口：落库、刷新会话摘要、扇出，接收方在线时立即推进到 delivered
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrContentEmpty
	}
	if req.ReceiverID == 0 {
		return nil, ErrParamInvalid
	}
	if req.ReceiverID == senderID {
		return nil, ErrCannotMessageSelf
	}
	msgType := req.MsgType
	if msgType == "" {
		msgType = consts.MessageTypeText
	}
	if !slices.Contains([]string{consts.MessageTypeText, consts.MessageTypeImage, consts.MessageTypeFile}, msgType) {
		return nil, ErrParamInvalid
	}

	lookupCtx, cancelLookup := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	users, err := s.userSvc.GetUserSimpleInfoByIds(lookupCtx, []uint64{senderID, req.ReceiverID})
	cancelLookup()
	if err != nil {
		return nil, storeErr(err)
	}
	if users[req.ReceiverID] == nil {
		return nil, ErrUserNotFound
	}

	key := util.ConversationKeyOf(senderID, req.ReceiverID)
	if req.ConversationKey != "" && req.ConversationKey != key {
		return nil, ErrConversationMismatch
	}

	now := s.now()
	msg := &mongo.Message{
		SenderID:        senderID,
		ReceiverID:      req.ReceiverID,
		ConversationKey: key,
		MsgType:         msgType,
		Content:         content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.messageRepo.Create(storeCtx, msg)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	// 消息已落库，之后的步骤不再跟随请求取消
	bg := context.WithoutCancel(ctx)
	s.touchConversation(bg, msg)

	msgDTO := s.toMessageDTO(msg, users)
	s.publisher.ToConversation(bg, key, &dto.WsEvent{Event: dto.EventReceiveMessage, Data: msgDTO, From: senderID})
	s.publisher.ToUser(bg, req.ReceiverID, &dto.WsEvent{
		Event: dto.EventNewMessageNotification,
		Data: &dto.NewMessageNotification{
			From:            users[senderID],
			Message:         msgDTO,
			ConversationKey: key,
		},
		From: senderID,
	})
	s.emit(bg, kafka.EventMessageCreated, msg)

	if s.presence.IsOnline(req.ReceiverID) {
		if updated, changed := s.advance(bg, msg.ID, consts.MessageStatusDelivered); changed {
			msgDTO.Status = updated.Status
			msgDTO.DeliveredAt = updated.DeliveredAt
		}
	}

	return msgDTO, nil
}

// touchConversation 刷新会话摘要；失败不影响已落库的消息，下一条消息会修复摘要
func (s *imServiceImpl) touchConversation(ctx context.Context, msg *mongo.Message) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	_, err := s.convRepo.Upsert(storeCtx, msg.ConversationKey, msg.SenderID, msg.ReceiverID, msg.ID.Hex(), msg.CreatedAt)
	if err != nil {
		log.ErrorContext(ctx, "conversation upsert failed", "conversation_key", msg.ConversationKey, "message_id", msg.ID.Hex(), "err", err)
	}
}

// advance 推进状态，真正发生变化时通知发送方
func (s *imServiceImpl) advance(ctx context.Context, id primitive.ObjectID, target string) (*mongo.Message, bool) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	updated, changed, err := s.messageRepo.AdvanceStatus(storeCtx, id, target, s.now())
	if err != nil {
		// 留给积压补偿处理
		log.WarnContext(ctx, "advance message status failed", "message_id", id.Hex(), "target", target, "err", err)
		return nil, false
	}
	if !changed {
		return updated, false
	}
	s.notifyStatus(ctx, updated)
	s.emit(ctx, kafka.EventMessageDelivered, updated)
	return updated, true
}

func (s *imServiceImpl) notifyStatus(ctx context.Context, msg *mongo.Message) {
	s.publisher.ToUser(ctx, msg.SenderID, &dto.WsEvent{
		Event: dto.EventMessageStatusUpdate,
		Data: &dto.MessageStatusUpdate{
			MessageID:       msg.ID.Hex(),
			ConversationKey: msg.ConversationKey,
			Status:          msg.Status,
			DeliveredAt:     msg.DeliveredAt,
		},
	})
}

// GetMessages 拉取历史并对查看者执行已读
func (s *imServiceImpl) GetMessages(ctx context.Context, viewerID uint64, conversationKey string, page, limit int) (*dto.MessagePageDTO, error) {
	if err := s.CheckParticipant(viewerID, conversationKey); err != nil {
		return nil, err
	}
	page, limit = util.ClampPage(page, limit, s.cfg.DefaultPageSize, s.cfg.MaxPageSize)

	// 先标记已读，返回的页里状态就是最新的；已读失败时不返回可能过期的页
	if _, err := s.MarkConversationRead(ctx, viewerID, conversationKey); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	msgs, err := s.messageRepo.ListPage(storeCtx, conversationKey, page, limit)
	if err != nil {
		return nil, storeErr(err)
	}

	a, b, _ := util.ParseConversationKey(conversationKey)
	users, err := s.userSvc.GetUserSimpleInfoByIds(ctx, []uint64{a, b})
	if err != nil {
		log.WarnContext(ctx, "load user info failed", "err", err)
		users = nil
	}

	// 存储按新到旧返回，展示按旧到新
	res := make([]*dto.MessageDTO, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		res = append(res, s.toMessageDTO(msgs[i], users))
	}
	return &dto.MessagePageDTO{
		Messages: res,
		Pagination: dto.PaginationDTO{
			Page:    page,
			Limit:   limit,
			HasMore: len(msgs) == limit,
		},
	}, nil
}

// MarkConversationRead 把会话里发给 viewer 的消息全部置为已读，有变化时通知对方
func (s *imServiceImpl) MarkConversationRead(ctx context.Context, viewerID uint64, conversationKey string) (int64, error) {
	if err := s.CheckParticipant(viewerID, conversationKey); err != nil {
		return 0, err
	}
	peerID, _ := util.PeerOf(conversationKey, viewerID)

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	count, err := s.messageRepo.MarkConversationRead(storeCtx, conversationKey, viewerID, s.now())
	if err != nil {
		return 0, storeErr(err)
	}
	if count == 0 {
		return 0, nil
	}

	bg := context.WithoutCancel(ctx)
	s.publisher.ToUser(bg, peerID, &dto.WsEvent{
		Event: dto.EventMessagesMarkedRead,
		Data: &dto.MessagesMarkedRead{
			ConversationKey: conversationKey,
			ReaderID:        viewerID,
			Count:           count,
		},
	})
	s.events.Emit(bg, &kafka.MessageEvent{
		Type:            kafka.EventMessageRead,
		ConversationKey: conversationKey,
		SenderID:        peerID,
		ReceiverID:      viewerID,
		Status:          consts.MessageStatusRead,
		Count:           count,
		At:              s.now(),
	})
	return count, nil
}

// AckDelivered 接收方手动确认送达
func (s *imServiceImpl) AckDelivered(ctx context.Context, userID uint64, messageID string) (bool, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.ReceiverID != userID {
		return false, ErrNotMessageReceiver
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	updated, changed, err := s.messageRepo.AdvanceStatus(storeCtx, msg.ID, consts.MessageStatusDelivered, s.now())
	if err != nil {
		if mongo.IsNotFound(err) {
			return false, ErrMessageNotFound
		}
		return false, storeErr(err)
	}
	if changed {
		bg := context.WithoutCancel(ctx)
		s.notifyStatus(bg, updated)
		s.emit(bg, kafka.EventMessageDelivered, updated)
	}
	return changed, nil
}

// HandleSendHint 实时通道上的 send_message 只是提示：消息已由 HTTP 落库并扇出，这里只校验归属并清除输入状态
func (s *imServiceImpl) HandleSendHint(ctx context.Context, userID uint64, messageID, conversationKey string) error {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return ErrNotMessageOwner
	}
	if conversationKey != "" && conversationKey != msg.ConversationKey {
		return ErrConversationMismatch
	}
	return s.PublishTyping(ctx, userID, msg.ConversationKey, false)
}

func (s *imServiceImpl) PublishTyping(ctx context.Context, userID uint64, conversationKey string, isTyping bool) error {
	if err := s.CheckParticipant(userID, conversationKey); err != nil {
		return err
	}
	s.publisher.ToConversation(ctx, conversationKey, &dto.WsEvent{
		Event: dto.EventUserTyping,
		Data: &dto.UserTypingPayload{
			ConversationKey: conversationKey,
			UserID:          userID,
			IsTyping:        isTyping,
		},
		From: userID,
	})
	return nil
}

// EditMessage 仅发送者、未删除、发送后 15 分钟内可编辑
func (s *imServiceImpl) EditMessage(ctx context.Context, userID uint64, messageID, content string) (*dto.MessageDTO, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrContentEmpty
	}
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err = messageRuleErr(msg.CheckEditable(userID, now, s.cfg.EditWindow)); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	updated, err := s.messageRepo.UpdateContent(storeCtx, msg.ID, userID, content, now.Add(-s.cfg.EditWindow), now)
	if err != nil {
		if !mongo.IsNotFound(err) {
			return nil, storeErr(err)
		}
		// 检查与更新之间被删除或窗口关闭
		current, getErr := s.messageRepo.GetByID(storeCtx, msg.ID)
		if getErr != nil {
			return nil, ErrMessageNotFound
		}
		if ruleErr := messageRuleErr(current.CheckEditable(userID, now, s.cfg.EditWindow)); ruleErr != nil {
			return nil, ruleErr
		}
		return nil, ErrEditWindowExpired
	}

	users, err := s.userSvc.GetUserSimpleInfoByIds(ctx, []uint64{updated.SenderID, updated.ReceiverID})
	if err != nil {
		users = nil
	}
	msgDTO := s.toMessageDTO(updated, users)

	bg := context.WithoutCancel(ctx)
	s.publisher.ToConversation(bg, updated.ConversationKey, &dto.WsEvent{Event: dto.EventMessageEdited, Data: msgDTO, From: userID})
	s.emit(bg, kafka.EventMessageEdited, updated)
	return msgDTO, nil
}

// DeleteMessage 软删除，重复删除视为成功
func (s *imServiceImpl) DeleteMessage(ctx context.Context, userID uint64, messageID string) error {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err = messageRuleErr(msg.CheckOwner(userID)); err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	deleted, err := s.messageRepo.SoftDelete(storeCtx, msg.ID, userID, s.now())
	if err != nil {
		if mongo.IsNotFound(err) {
			return ErrMessageNotFound
		}
		return storeErr(err)
	}

	bg := context.WithoutCancel(ctx)
	s.publisher.ToConversation(bg, deleted.ConversationKey, &dto.WsEvent{
		Event: dto.EventMessageDeleted,
		Data: &dto.MessageDeletedPayload{
			MessageID:       deleted.ID.Hex(),
			ConversationKey: deleted.ConversationKey,
		},
		From: userID,
	})
	s.emit(bg, kafka.EventMessageDeleted, deleted)
	return nil
}

// GetConversationList 会话列表，附带对方信息与未读数
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	convs, err := s.convRepo.ListForUser(storeCtx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(convs) == 0 {
		return []*dto.ConversationDTO{}, nil
	}

	keys := lo.Map(convs, func(c *model.Conversation, _ int) string { return c.PeerKey })
	unread, err := s.messageRepo.CountUnreadByConversation(storeCtx, userID, keys)
	if err != nil {
		return nil, storeErr(err)
	}

	peerIDs := lo.Uniq(lo.Map(convs, func(c *model.Conversation, _ int) uint64 { return c.PeerOf(userID) }))
	users, err := s.userSvc.GetUserSimpleInfoByIds(ctx, peerIDs)
	if err != nil {
		log.WarnContext(ctx, "load peer info failed", "err", err)
		users = nil
	}

	res := make([]*dto.ConversationDTO, 0, len(convs))
	for _, c := range convs {
		peerID := c.PeerOf(userID)
		peer := users[peerID]
		if peer == nil {
			peer = &dto.UserSimpleDTO{UserID: peerID}
		}
		res = append(res, &dto.ConversationDTO{
			ConversationKey: c.PeerKey,
			Peer:            peer,
			LastMessageID:   c.LastMessageID,
			LastActivityAt:  c.LastMessageAt,
			UnreadCount:     unread[c.PeerKey],
		})
	}
	return res, nil
}

func (s *imServiceImpl) GetStats(ctx context.Context, userID uint64) (*dto.IMStatsDTO, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var (
		stats dto.IMStatsDTO
		err   error
	)
	if stats.TotalConversations, err = s.convRepo.CountForUser(storeCtx, userID); err != nil {
		return nil, storeErr(err)
	}
	if stats.Sent, err = s.messageRepo.CountSent(storeCtx, userID); err != nil {
		return nil, storeErr(err)
	}
	if stats.Received, err = s.messageRepo.CountReceived(storeCtx, userID); err != nil {
		return nil, storeErr(err)
	}
	if stats.Unread, err = s.messageRepo.CountUnread(storeCtx, userID); err != nil {
		return nil, storeErr(err)
	}
	return &stats, nil
}

// CheckParticipant 会话标识合法且 userID 是其中一方
func (s *imServiceImpl) CheckParticipant(userID uint64, conversationKey string) error {
	if _, _, err := util.ParseConversationKey(conversationKey); err != nil {
		return ErrParamInvalid
	}
	if _, ok := util.PeerOf(conversationKey, userID); !ok {
		return ErrNotParticipant
	}
	return nil
}

func (s *imServiceImpl) OnlineUsers() []uint64 {
	return s.presence.Snapshot()
}

func (s *imServiceImpl) loadMessage(ctx context.Context, messageID string) (*mongo.Message, error) {
	id, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, ErrParamInvalid
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	msg, err := s.messageRepo.GetByID(storeCtx, id)
	if err != nil {
		if mongo.IsNotFound(err) {
			return nil, ErrMessageNotFound
		}
		return nil, storeErr(err)
	}
	return msg, nil
}

func (s *imServiceImpl) emit(ctx context.Context, eventType string, msg *mongo.Message) {
	s.events.Emit(ctx, &kafka.MessageEvent{
		Type:            eventType,
		MessageID:       msg.ID.Hex(),
		ConversationKey: msg.ConversationKey,
		SenderID:        msg.SenderID,
		ReceiverID:      msg.ReceiverID,
		Status:          msg.Status,
		At:              s.now(),
	})
}

func (s *imServiceImpl) toMessageDTO(m *mongo.Message, users map[uint64]*dto.UserSimpleDTO) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID:              m.ID.Hex(),
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Sender:          users[m.SenderID],
		Receiver:        users[m.ReceiverID],
		MsgType:         m.MsgType,
		Content:         m.Content,
		Status:          m.Status,
		IsRead:          m.IsRead,
		IsDeleted:       m.IsDeleted,
		DeliveredAt:     m.DeliveredAt,
		ReadAt:          m.ReadAt,
		EditedAt:        m.EditedAt,
		CreatedAt:       m.CreatedAt,
	}
}
