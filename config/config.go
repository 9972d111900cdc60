package config

import (
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/voicetyped/conversation/pkg/commands"
	"github.com/voicetyped/conversation/pkg/conversation"
)

// ConversationConfig holds configuration for the conversation service.
type ConversationConfig struct {
	config.ConfigurationDefault

	// Authored data
	ConversationDir    string `envDefault:"./conversations"    env:"CONVERSATION_DIR"`
	DefaultGroup       string `envDefault:"default"            env:"DEFAULT_CONVERSATION_GROUP"`
	WatchConversations bool   `envDefault:"true"               env:"WATCH_CONVERSATIONS"`
	InboundQueueName   string `envDefault:"robot-events"       env:"INBOUND_QUEUE_NAME"`
	InboundQueueURL    string `envDefault:"mem://robot-events" env:"INBOUND_QUEUE_URL"`

	// Sessions
	TriggerDebounceMs     int    `envDefault:"500"  env:"TRIGGER_DEBOUNCE_MS"`
	DefaultFailTimeoutSec int    `envDefault:"0"    env:"DEFAULT_INTERACTION_TIMEOUT_SEC"`
	RandomSeed            uint64 `envDefault:"0"    env:"RANDOM_SEED"`
	MaxHistory            int    `envDefault:"1000" env:"MAX_HISTORY"`
	SessionTTLMin         int    `envDefault:"30"   env:"SESSION_TTL_MIN"`
	ListPublishMin        int    `envDefault:"5"    env:"CONVERSATION_LIST_PUBLISH_MIN"`

	// Persistence
	AuditAutoMigrate bool   `envDefault:"false" env:"AUDIT_AUTO_MIGRATE"`
	RedisURL         string `envDefault:""      env:"REDIS_URL"`
	SnapshotTTLSec   int    `envDefault:"86400" env:"SNAPSHOT_TTL_SEC"`

	// Commands
	CommandsFile        string `envDefault:""      env:"COMMANDS_FILE"`
	CommandTimeoutSec   int    `envDefault:"10"    env:"COMMAND_TIMEOUT_SEC"`
	CBFailThreshold     int    `envDefault:"5"     env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec   int    `envDefault:"60"    env:"CB_RESET_TIMEOUT_SEC"`
	CommandAllowPrivate bool   `envDefault:"false" env:"COMMAND_ALLOW_PRIVATE_IPS"`
	TwilioAccountSID    string `envDefault:""      env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `envDefault:""      env:"TWILIO_AUTH_TOKEN"`
}

// Debounce returns the duplicate-trigger suppression policy.
func (c *ConversationConfig) Debounce() conversation.DebouncePolicy {
	return conversation.DebouncePolicy{Default: time.Duration(c.TriggerDebounceMs) * time.Millisecond}
}

// DefaultFailTimeout returns the watchdog used by interactions that do not
// set their own. Zero keeps the built-in default.
func (c *ConversationConfig) DefaultFailTimeout() time.Duration {
	return time.Duration(c.DefaultFailTimeoutSec) * time.Second
}

// SessionTTL returns the idle time after which a session is reaped.
// A negative setting disables reaping.
func (c *ConversationConfig) SessionTTL() time.Duration {
	if c.SessionTTLMin < 0 {
		return -1
	}
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// Breaker returns the circuit breaker settings for HTTP commands.
func (c *ConversationConfig) Breaker() commands.BreakerConfig {
	return commands.BreakerConfig{
		FailureThreshold:    c.CBFailThreshold,
		ResetTimeout:        time.Duration(c.CBResetTimeoutSec) * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}
