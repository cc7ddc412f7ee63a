package tarantool

import (
	"fmt"
	"log/slog"
	"time"
)

type LogEvent interface {
	EventName() string
	Message() string
	LogLevel() slog.Level
	LogAttrs() []slog.Attr
}

const (
	componentConnection = "tarantool.connection"
	componentPool       = "tarantool.pool"
	componentBalancer   = "tarantool.balancer"
)

type baseEvent struct {
	component string
	addr      string
	EventTime time.Time
}

func newBaseEvent(component, addr string) baseEvent {
	return baseEvent{
		component: component,
		addr:      addr,
		EventTime: time.Now(),
	}
}

func (e baseEvent) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", e.component),
		slog.Time("event_time", e.EventTime),
	}
	if e.addr != "" {
		attrs = append(attrs, slog.String("addr", e.addr))
	}
	return attrs
}

type ConnectionFailedEvent struct {
	baseEvent
	Error error
}

func (e ConnectionFailedEvent) EventName() string    { return "connection_failed" }
func (e ConnectionFailedEvent) Message() string      { return "Connection failed" }
func (e ConnectionFailedEvent) LogLevel() slog.Level { return slog.LevelError }
func (e ConnectionFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type UnexpectedResultIdEvent struct {
	baseEvent
	RequestId uint32
}

func (e UnexpectedResultIdEvent) EventName() string { return "unexpected_result_id" }
func (e UnexpectedResultIdEvent) Message() string {
	return fmt.Sprintf("Received response with unexpected request ID %d", e.RequestId)
}
func (e UnexpectedResultIdEvent) LogLevel() slog.Level { return slog.LevelDebug }
func (e UnexpectedResultIdEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Uint64("request_id", uint64(e.RequestId)),
	)
	return attrs
}

type BoxSessionPushUnsupportedEvent struct {
	baseEvent
	RequestId uint32
}

func (e BoxSessionPushUnsupportedEvent) EventName() string { return "box_session_push_unsupported" }
func (e BoxSessionPushUnsupportedEvent) Message() string {
	return fmt.Sprintf("Unsupported box.session.push() for request %d", e.RequestId)
}
func (e BoxSessionPushUnsupportedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e BoxSessionPushUnsupportedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Uint64("request_id", uint64(e.RequestId)),
	)
	return attrs
}

type ConnectedEvent struct {
	baseEvent
	Greeting Greeting
}

func (e ConnectedEvent) EventName() string    { return "connected" }
func (e ConnectedEvent) Message() string      { return "Connected to Tarantool" }
func (e ConnectedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ConnectedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("server_version", e.Greeting.ServerVersion),
		slog.String("instance_uuid", e.Greeting.InstanceUUID.String()),
	)
	return attrs
}

type DisconnectedEvent struct {
	baseEvent
	Reason error
}

func (e DisconnectedEvent) EventName() string { return "disconnected" }
func (e DisconnectedEvent) Message() string {
	if e.Reason != nil {
		return fmt.Sprintf("Disconnected from Tarantool: %s", e.Reason)
	}
	return "Disconnected from Tarantool"
}
func (e DisconnectedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e DisconnectedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	if e.Reason != nil {
		attrs = append(attrs, slog.String("reason", e.Reason.Error()))
	}
	return attrs
}

type ClosedEvent struct {
	baseEvent
}

func (e ClosedEvent) EventName() string    { return "closed" }
func (e ClosedEvent) Message() string      { return "Connection closed" }
func (e ClosedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ClosedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs, slog.String("event", e.EventName()))
	return attrs
}

type IdleTimeoutEvent struct {
	baseEvent
	Idle    time.Duration
	Pending int
}

func (e IdleTimeoutEvent) EventName() string { return "idle_timeout" }
func (e IdleTimeoutEvent) Message() string {
	return fmt.Sprintf("No data read for %s, failing %d pending requests", e.Idle, e.Pending)
}
func (e IdleTimeoutEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e IdleTimeoutEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("idle", e.Idle.String()),
		slog.Int("pending", e.Pending),
	)
	return attrs
}

type ConnectionPoolEvent struct {
	baseEvent
	PoolSize    int
	ActiveConns int
	Event       string
}

// NewConnectionPoolEvent creates an event of a connection pool to addr.
func NewConnectionPoolEvent(addr, event string, poolSize, activeConns int) ConnectionPoolEvent {
	return ConnectionPoolEvent{
		baseEvent:   newBaseEvent(componentPool, addr),
		PoolSize:    poolSize,
		ActiveConns: activeConns,
		Event:       event,
	}
}

func (e ConnectionPoolEvent) EventName() string { return "connection_pool_" + e.Event }
func (e ConnectionPoolEvent) Message() string {
	switch e.Event {
	case "added":
		return "Connection added to pool"
	case "removed":
		return "Connection removed from pool"
	case "full":
		return "Connection pool is full"
	case "closed":
		return "Connection pool closed"
	default:
		return "Connection pool event: " + e.Event
	}
}
func (e ConnectionPoolEvent) LogLevel() slog.Level {
	if e.Event == "full" {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
func (e ConnectionPoolEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Int("pool_size", e.PoolSize),
		slog.Int("active_connections", e.ActiveConns),
		slog.String("pool_event", e.Event),
	)
	return attrs
}

type MemberStatusEvent struct {
	baseEvent
	Name   string
	Status string
	Error  error
}

// NewMemberStatusEvent creates an event about a health change of a balancer
// member.
func NewMemberStatusEvent(name, addr, status string, err error) MemberStatusEvent {
	return MemberStatusEvent{
		baseEvent: newBaseEvent(componentBalancer, addr),
		Name:      name,
		Status:    status,
		Error:     err,
	}
}

func (e MemberStatusEvent) EventName() string { return "member_" + e.Status }
func (e MemberStatusEvent) Message() string {
	return fmt.Sprintf("Balancer member %s is %s", e.Name, e.Status)
}
func (e MemberStatusEvent) LogLevel() slog.Level {
	if e.Error != nil {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
func (e MemberStatusEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("member", e.Name),
	)
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type TimeoutEvent struct {
	baseEvent
	RequestId uint32
	Timeout   time.Duration
}

func (e TimeoutEvent) EventName() string { return "timeout" }
func (e TimeoutEvent) Message() string {
	return fmt.Sprintf("Request %d timed out after %s", e.RequestId, e.Timeout)
}
func (e TimeoutEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e TimeoutEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Uint64("request_id", uint64(e.RequestId)),
		slog.String("timeout", e.Timeout.String()),
	)
	return attrs
}

type NoAvailableClientsEvent struct {
	baseEvent
	Members int
	Errors  error
}

// NewNoAvailableClientsEvent creates an event about a pick that failed on
// every balancer member. errs holds the failure of each member.
func NewNoAvailableClientsEvent(members int, errs error) NoAvailableClientsEvent {
	return NoAvailableClientsEvent{
		baseEvent: newBaseEvent(componentBalancer, ""),
		Members:   members,
		Errors:    errs,
	}
}

func (e NoAvailableClientsEvent) EventName() string { return "no_available_clients" }
func (e NoAvailableClientsEvent) Message() string {
	return fmt.Sprintf("No available clients among %d members", e.Members)
}
func (e NoAvailableClientsEvent) LogLevel() slog.Level { return slog.LevelError }
func (e NoAvailableClientsEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Int("members", e.Members),
	)
	if e.Errors != nil {
		attrs = append(attrs, slog.String("error", e.Errors.Error()))
	}
	return attrs
}
