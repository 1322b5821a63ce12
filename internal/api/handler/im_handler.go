package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	imService service.IMService
}

func NewIMHandler(imService service.IMService) *IMHandler {
	return &IMHandler{imService: imService}
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return
	}

	// 从 Context 中获取中间件解析出的当前用户 ID
	senderID := c.GetUint64(consts.UserIDKey)

	res, err := s.imService.SendMessage(c.Request.Context(), senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetMessages 获取会话历史，同时把发给自己的消息标为已读
func (s *IMHandler) GetMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	userID := c.GetUint64(consts.UserIDKey)

	res, err := s.imService.GetMessages(c.Request.Context(), userID, c.Param("key"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkRead 标记会话已读
func (s *IMHandler) MarkRead(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)

	count, err := s.imService.MarkConversationRead(c.Request.Context(), userID, c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.MarkReadDTO{Count: count})
}

// EditMessage 编辑消息
func (s *IMHandler) EditMessage(c *gin.Context) {
	var req dto.EditMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return
	}
	userID := c.GetUint64(consts.UserIDKey)

	res, err := s.imService.EditMessage(c.Request.Context(), userID, c.Param("id"), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteMessage 删除消息
func (s *IMHandler) DeleteMessage(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)

	if err := s.imService.DeleteMessage(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// GetConversationList 获取会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetStats 个人消息统计
func (s *IMHandler) GetStats(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.GetStats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetOnlineUsers 本实例在线用户
func (s *IMHandler) GetOnlineUsers(c *gin.Context) {
	response.Success(c, &dto.OnlineUsersDTO{Users: s.imService.OnlineUsers()})
}
