package errs

const (
	ServerInternalError = 500

	MalformedEventCode        = 1001 // 事件缺字段/类型不对
	PersistenceCode           = 1002 // 存储读写失败
	UnauthorizedRoomJoinCode  = 1003 // 非成员加入聊天房间
	UnauthorizedAnnounceCode  = 1004 // setup 身份与令牌不符
	UnauthorizedRequestCode   = 1005 // HTTP 请求缺少/无效令牌
	ConnectionClosedCode      = 1006 // 连接已断开
	ConnectionNotFoundCode    = 1007
	UnauthorizedParentCode    = 1000 // 所有鉴权类错误的父码
	InvalidArgumentParentCode = 1100
)

var (
	ErrInternal             = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrMalformedEvent       = NewCodeError(MalformedEventCode, "MalformedEventError")
	ErrPersistence          = NewCodeError(PersistenceCode, "PersistenceError")
	ErrUnauthorizedRoomJoin = NewCodeError(UnauthorizedRoomJoinCode, "UnauthorizedRoomJoinError")
	ErrUnauthorizedAnnounce = NewCodeError(UnauthorizedAnnounceCode, "UnauthorizedAnnounceError")
	ErrUnauthorizedRequest  = NewCodeError(UnauthorizedRequestCode, "UnauthorizedRequestError")
	ErrConnectionClosed     = NewCodeError(ConnectionClosedCode, "ConnectionClosed")
	ErrConnectionNotFound   = NewCodeError(ConnectionNotFoundCode, "ConnectionNotFound")
	ErrUnauthorized         = NewCodeError(UnauthorizedParentCode, "Unauthorized")
)

func init() {
	_ = DefaultCodeRelation.Add(UnauthorizedParentCode, UnauthorizedRoomJoinCode)
	_ = DefaultCodeRelation.Add(UnauthorizedParentCode, UnauthorizedAnnounceCode)
	_ = DefaultCodeRelation.Add(UnauthorizedParentCode, UnauthorizedRequestCode)
}
