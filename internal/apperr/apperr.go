// Package apperr 도메인 에러 분류 (validation / not_found / conflict / forbidden / internal)
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind 에러 분류
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

// Code 클라이언트에 노출되는 기계 판독용 코드
type Code string

const (
	CodeValidation           Code = "VALIDATION_FAILED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInternal             Code = "INTERNAL"
	CodeAlreadyAnswered      Code = "ALREADY_ANSWERED"
	CodeDuplicateParticipant Code = "DUPLICATE_PARTICIPANT"
	CodeRoomFull             Code = "ROOM_FULL"
	CodeRoomEnded            Code = "ROOM_ENDED"
	CodeRoomNotRunning       Code = "ROOM_NOT_RUNNING"
	CodePollClosed           Code = "POLL_CLOSED"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
)

// Error 도메인 에러
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 같은 Code를 가진 에러끼리 일치로 판단
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrAlreadyAnswered      = &Error{Kind: KindConflict, Code: CodeAlreadyAnswered, Message: "already answered"}
	ErrDuplicateParticipant = &Error{Kind: KindConflict, Code: CodeDuplicateParticipant, Message: "already joined this room"}
	ErrRoomFull             = &Error{Kind: KindConflict, Code: CodeRoomFull, Message: "room is full"}
	ErrRoomEnded            = &Error{Kind: KindConflict, Code: CodeRoomEnded, Message: "room has ended"}
	ErrRoomNotRunning       = &Error{Kind: KindConflict, Code: CodeRoomNotRunning, Message: "room is not running"}
	ErrPollClosed           = &Error{Kind: KindConflict, Code: CodePollClosed, Message: "poll is closed"}
	ErrInvalidTransition    = &Error{Kind: KindConflict, Code: CodeInvalidTransition, Message: "invalid status transition"}
)

// Validation 잘못된 입력
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound 리소스 없음 (또는 소유 관계 불일치)
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: resource + " not found"}
}

// Forbidden 권한 없음
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

// Internal 저장소 실패 등 내부 에러 래핑
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// KindOf 에러 분류 조회 (도메인 에러가 아니면 internal)
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf 에러 코드 조회
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus 에러 분류를 HTTP 상태 코드로 변환
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	case KindConflict:
		return fiber.StatusConflict
	case KindForbidden:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// PublicMessage 클라이언트에 보여줄 메시지 (internal은 일반 메시지로 대체)
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}
