package wireschema

import "fmt"

// Envelope field numbers. The payload rides as one length-delimited field
// whose concrete shape is selected by cmdType, per the envelope rule that
// every request carries at most one payload matching its tag.
const (
	fieldEnvCmdType       = 1
	fieldEnvTraceID       = 2
	fieldEnvClientID      = 3
	fieldEnvUserInfo      = 4
	fieldEnvVersion       = 5
	fieldEnvLayoutVersion = 6
	fieldEnvS3Auth        = 7
	fieldEnvPayload       = 10

	fieldEnvSuccess      = 3
	fieldEnvMessage      = 4
	fieldEnvStatus       = 5
	fieldEnvLeaderNodeID = 6

	fieldUserInfoUserName   = 1
	fieldUserInfoRemoteAddr = 2

	fieldS3AuthAccessID       = 1
	fieldS3AuthStringToSign   = 2
	fieldS3AuthSignature      = 3
	fieldS3AuthAwsAccessKeyID = 4
)

func (u UserInfo) marshalAppend(out []byte) []byte {
	out = appendStringField(out, fieldUserInfoUserName, u.UserName)
	out = appendStringField(out, fieldUserInfoRemoteAddr, u.RemoteAddr)
	return out
}

func unmarshalUserInfo(buf []byte) (UserInfo, error) {
	var u UserInfo
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case fieldUserInfoUserName:
			u.UserName = s.str()
		case fieldUserInfoRemoteAddr:
			u.RemoteAddr = s.str()
		default:
			s.skip()
		}
	}
	return u, s.err
}

func (a S3Auth) marshalAppend(out []byte) []byte {
	out = appendStringField(out, fieldS3AuthAccessID, a.AccessID)
	out = appendStringField(out, fieldS3AuthStringToSign, a.StringToSign)
	out = appendStringField(out, fieldS3AuthSignature, a.Signature)
	out = appendStringField(out, fieldS3AuthAwsAccessKeyID, a.AwsAccessKeyId)
	return out
}

func unmarshalS3Auth(buf []byte) (S3Auth, error) {
	var a S3Auth
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case fieldS3AuthAccessID:
			a.AccessID = s.str()
		case fieldS3AuthStringToSign:
			a.StringToSign = s.str()
		case fieldS3AuthSignature:
			a.Signature = s.str()
		case fieldS3AuthAwsAccessKeyID:
			a.AwsAccessKeyId = s.str()
		default:
			s.skip()
		}
	}
	return a, s.err
}

// Marshal encodes the request envelope. It fails if Payload's concrete
// type does not match CmdType.
func (r Request) Marshal() ([]byte, error) {
	var out []byte
	out = appendVarintField(out, fieldEnvCmdType, uint64(r.CmdType))
	out = appendStringField(out, fieldEnvTraceID, r.TraceID)
	out = appendStringField(out, fieldEnvClientID, r.ClientID)
	if r.UserInfo != nil {
		out = appendMessageField(out, fieldEnvUserInfo, r.UserInfo.marshalAppend(nil))
	}
	out = appendVarintField(out, fieldEnvVersion, uint64(r.Version))
	out = appendVarintField(out, fieldEnvLayoutVersion, uint64(r.LayoutVersion))
	if r.S3Auth != nil {
		out = appendMessageField(out, fieldEnvS3Auth, r.S3Auth.marshalAppend(nil))
	}
	if r.Payload != nil {
		pb, err := marshalRequestPayload(r.CmdType, r.Payload)
		if err != nil {
			return nil, err
		}
		out = appendMessageField(out, fieldEnvPayload, pb)
	}
	return out, nil
}

// UnmarshalRequest decodes a request envelope and its cmdType-selected
// payload.
func UnmarshalRequest(buf []byte) (Request, error) {
	var r Request
	var payloadBytes []byte
	sawPayload := false

	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case fieldEnvCmdType:
			r.CmdType = CmdType(s.varint())
		case fieldEnvTraceID:
			r.TraceID = s.str()
		case fieldEnvClientID:
			r.ClientID = s.str()
		case fieldEnvUserInfo:
			u, err := unmarshalUserInfo(s.bytes())
			if err != nil {
				return r, err
			}
			r.UserInfo = &u
		case fieldEnvVersion:
			r.Version = uint32(s.varint())
		case fieldEnvLayoutVersion:
			r.LayoutVersion = uint32(s.varint())
		case fieldEnvS3Auth:
			a, err := unmarshalS3Auth(s.bytes())
			if err != nil {
				return r, err
			}
			r.S3Auth = &a
		case fieldEnvPayload:
			payloadBytes = s.bytes()
			sawPayload = true
		default:
			s.skip()
		}
	}
	if s.err != nil {
		return r, s.err
	}
	if sawPayload {
		p, err := unmarshalRequestPayload(r.CmdType, payloadBytes)
		if err != nil {
			return r, fmt.Errorf("request payload: %w", err)
		}
		r.Payload = p
	}
	return r, nil
}

// Marshal encodes the response envelope. It fails if Payload's concrete
// type does not match CmdType.
func (r Response) Marshal() ([]byte, error) {
	var out []byte
	out = appendVarintField(out, fieldEnvCmdType, uint64(r.CmdType))
	out = appendStringField(out, fieldEnvTraceID, r.TraceID)
	out = appendBoolField(out, fieldEnvSuccess, r.Success)
	out = appendStringField(out, fieldEnvMessage, r.Message)
	out = appendVarintField(out, fieldEnvStatus, uint64(r.Status))
	out = appendStringField(out, fieldEnvLeaderNodeID, r.LeaderNodeID)
	if r.Payload != nil {
		pb, err := marshalResponsePayload(r.CmdType, r.Payload)
		if err != nil {
			return nil, err
		}
		out = appendMessageField(out, fieldEnvPayload, pb)
	}
	return out, nil
}

// UnmarshalResponse decodes a response envelope and its cmdType-selected
// payload.
func UnmarshalResponse(buf []byte) (Response, error) {
	var r Response
	var payloadBytes []byte
	sawPayload := false

	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case fieldEnvCmdType:
			r.CmdType = CmdType(s.varint())
		case fieldEnvTraceID:
			r.TraceID = s.str()
		case fieldEnvSuccess:
			r.Success = s.varint() != 0
		case fieldEnvMessage:
			r.Message = s.str()
		case fieldEnvStatus:
			r.Status = Status(s.varint())
		case fieldEnvLeaderNodeID:
			r.LeaderNodeID = s.str()
		case fieldEnvPayload:
			payloadBytes = s.bytes()
			sawPayload = true
		default:
			s.skip()
		}
	}
	if s.err != nil {
		return r, s.err
	}
	if sawPayload {
		p, err := unmarshalResponsePayload(r.CmdType, payloadBytes)
		if err != nil {
			return r, fmt.Errorf("response payload: %w", err)
		}
		r.Payload = p
	}
	return r, nil
}
