package sender

import (
	"context"
	"fmt"

	"eznotify/config"
	"eznotify/internal/model"

	"go.uber.org/zap"
)

// Sender delivers a single notification job. Implementations are treated as
// opaque, possibly slow, possibly failing remote calls; the caller owns the
// timeout on ctx.
type Sender interface {
	Send(ctx context.Context, job model.Job) error
}

// Registry 按任务类型选择发送操作
type Registry struct {
	senders map[model.JobType]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.JobType]Sender)}
}

// Register binds a job type to a delivery channel.
func (r *Registry) Register(t model.JobType, s Sender) {
	r.senders[t] = s
}

// Send dispatches the job to the channel registered for its type.
func (r *Registry) Send(ctx context.Context, job model.Job) error {
	s, ok := r.senders[job.Type]
	if !ok {
		return fmt.Errorf("no sender registered for job type %q", job.Type)
	}
	return s.Send(ctx, job)
}

// FromConfig builds the registry with per-type channel routing.
// Types without an explicit route go out over email.
func FromConfig(cfg config.SendersConfig, logger *zap.Logger) (*Registry, error) {
	email := WithBreaker(NewEmailSender(cfg.SMTP, logger), "email", logger)
	sms := WithBreaker(NewSMSSender(cfg.SMS, logger), "sms", logger)

	reg := NewRegistry()
	for _, t := range model.JobTypes() {
		channel := cfg.Routes[string(t)]
		switch channel {
		case "", "email":
			reg.Register(t, email)
		case "sms":
			reg.Register(t, sms)
		default:
			return nil, fmt.Errorf("unknown sender channel %q for job type %q", channel, t)
		}
	}

	return reg, nil
}
