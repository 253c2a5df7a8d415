package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 业务错误码（5xx 预留给基础设施，1xxx 为聊天域）
const (
	ServerInternalError = 500
	StorageUnavailable  = 501
	BusClosed           = 502

	RealtimeNotInitialized     = 1001
	RealtimeAlreadyInitialized = 1002
	ConversationNotFound       = 1003
	SenderNotParticipant       = 1004
	InvalidMessageKind         = 1005
)

var (
	ErrNotInitialized      = NewCodeError(RealtimeNotInitialized, "realtime service not initialized")
	ErrAlreadyInitialized  = NewCodeError(RealtimeAlreadyInitialized, "realtime service already initialized for another user")
	ErrConversationMissing = NewCodeError(ConversationNotFound, "conversation not found")
	ErrNotParticipant      = NewCodeError(SenderNotParticipant, "sender is not a participant of the conversation")
	ErrBadMessageKind      = NewCodeError(InvalidMessageKind, "unsupported message kind")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func New(msg string) error { return errors.New(msg) }

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) ECode() int   { return e.Code }
func (e *CodeError) EMsg() string { return e.Msg }

// WithDetail 返回副本，原错误保持可比较
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// WrapMsg 附加 kv 细节并包一层，errors.Is 仍按 code 命中
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return fmt.Errorf("%s: %w", toString(msg, kv), e)
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf 提取错误链上的业务码；非 CodeError 一律按内部错误算
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerInternalError
}

// IsCode 判断任意 error 链里是否带指定业务码
func IsCode(err error, code int) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		sb.WriteString(", ")
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		}
	}
	return sb.String()
}
