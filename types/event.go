package types

import (
	"encoding/json"
	"fmt"
)

// EventType 是推送事件在线上的类型标签。
type EventType string

const (
	EventTransferIncoming EventType = "transfer-incoming"
	EventTransferReady    EventType = "transfer-ready"
	EventTransferComplete EventType = "transfer-complete"
	EventTransferFailed   EventType = "transfer-failed"
)

// Event 是推送给房间客户端的事件。实现集合是封闭的：
// IncomingEvent、ReadyEvent、CompleteEvent、FailedEvent。
type Event interface {
	Type() EventType
	TransferID() string
	isEvent()
}

// IncomingEvent 通知目标坐席有转接到来，始终携带摘要。
type IncomingEvent struct {
	ID              string
	DestinationRoom string
	Summary         string
	FromRoom        string
}

// ReadyEvent 通知发起方目标房间已准备好，携带来电者的准入凭证。
type ReadyEvent struct {
	ID                    string
	DestinationRoom       string
	DestinationCredential *Credential
	Summary               string
}

// CompleteEvent 通知转接完成。
type CompleteEvent struct {
	ID string
}

// FailedEvent 通知转接失败或被取消。
type FailedEvent struct {
	ID     string
	Reason FailureReason
}

func (IncomingEvent) Type() EventType { return EventTransferIncoming }
func (ReadyEvent) Type() EventType    { return EventTransferReady }
func (CompleteEvent) Type() EventType { return EventTransferComplete }
func (FailedEvent) Type() EventType   { return EventTransferFailed }

func (e IncomingEvent) TransferID() string { return e.ID }
func (e ReadyEvent) TransferID() string    { return e.ID }
func (e CompleteEvent) TransferID() string { return e.ID }
func (e FailedEvent) TransferID() string   { return e.ID }

func (IncomingEvent) isEvent() {}
func (ReadyEvent) isEvent()    {}
func (CompleteEvent) isEvent() {}
func (FailedEvent) isEvent()   {}

// eventEnvelope 是事件的 JSON 线格式。
type eventEnvelope struct {
	Type                  EventType      `json:"type"`
	TransferID            string         `json:"transferId"`
	DestinationRoom       string         `json:"destinationRoom,omitempty"`
	DestinationCredential *Credential    `json:"destinationCredential,omitempty"`
	Summary               string         `json:"summary,omitempty"`
	FromRoom              string         `json:"fromRoom,omitempty"`
	Reason                *FailureReason `json:"reason,omitempty"`
}

// EncodeEvent 将事件编码为线格式。
func EncodeEvent(e Event) ([]byte, error) {
	env := eventEnvelope{Type: e.Type(), TransferID: e.TransferID()}
	switch ev := e.(type) {
	case IncomingEvent:
		env.DestinationRoom = ev.DestinationRoom
		env.Summary = ev.Summary
		env.FromRoom = ev.FromRoom
	case ReadyEvent:
		env.DestinationRoom = ev.DestinationRoom
		env.DestinationCredential = ev.DestinationCredential
		env.Summary = ev.Summary
	case CompleteEvent:
	case FailedEvent:
		r := ev.Reason
		env.Reason = &r
	default:
		return nil, fmt.Errorf("unknown event %T", e)
	}
	return json.Marshal(env)
}

// DecodeEvent 解析线格式并校验每种事件的必填字段。
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.TransferID == "" {
		return nil, fmt.Errorf("decode event: missing transferId")
	}
	switch env.Type {
	case EventTransferIncoming:
		if env.Summary == "" {
			return nil, fmt.Errorf("decode event: %s without summary", env.Type)
		}
		return IncomingEvent{
			ID:              env.TransferID,
			DestinationRoom: env.DestinationRoom,
			Summary:         env.Summary,
			FromRoom:        env.FromRoom,
		}, nil
	case EventTransferReady:
		if env.DestinationRoom == "" || env.DestinationCredential == nil {
			return nil, fmt.Errorf("decode event: %s without destination", env.Type)
		}
		return ReadyEvent{
			ID:                    env.TransferID,
			DestinationRoom:       env.DestinationRoom,
			DestinationCredential: env.DestinationCredential,
			Summary:               env.Summary,
		}, nil
	case EventTransferComplete:
		return CompleteEvent{ID: env.TransferID}, nil
	case EventTransferFailed:
		if env.Reason == nil {
			return nil, fmt.Errorf("decode event: %s without reason", env.Type)
		}
		return FailedEvent{ID: env.TransferID, Reason: *env.Reason}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
}
