package handlers

import "talkify/service/chat"

// RegisterAll 注册全部客户端事件
func RegisterAll(s *chat.Server) {
	r := s.Router()
	d := s.Disp()
	d.Register(NewAnnounceHandler(r))
	d.Register(NewJoinChatHandler(r))
	d.Register(NewNewMessageHandler(r))
	d.Register(NewTypingHandler(r))
	d.Register(NewStopTypingHandler(r))
	d.Register(NewUserOnlineHandler(r))
	d.Register(NewUserOfflineHandler(r))
}
