package model

// Identity 외부 인증 제공자가 발급한 불투명 사용자 토큰
type Identity struct {
	Key         string // 안정적인 사용자 식별 토큰
	DisplayName string
	Anonymous   bool
}

// Type 참가자 유형으로 변환
func (i Identity) Type() ParticipantType {
	if i.Anonymous {
		return ParticipantTypeAnonymous
	}
	return ParticipantTypeAuthenticated
}

// UserID 인증 사용자만 user_id를 가짐
func (i Identity) UserID() *string {
	if i.Anonymous {
		return nil
	}
	key := i.Key
	return &key
}
