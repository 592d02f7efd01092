package email

import (
	"context"
	"sync"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, subject string, templateName string, data map[string]any) error
}

// Sent is one message captured by RecordingProvider.
type Sent struct {
	To       []string
	Subject  string
	Template string
	Data     map[string]any
}

// RecordingProvider keeps messages in memory instead of delivering them.
type RecordingProvider struct {
	mu   sync.Mutex
	sent []Sent
}

func (p *RecordingProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	p.sent = append(p.sent, Sent{To: to, Subject: subject})
	p.mu.Unlock()
	return nil
}

func (p *RecordingProvider) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data map[string]any) error {
	p.mu.Lock()
	p.sent = append(p.sent, Sent{To: to, Subject: subject, Template: templateName, Data: data})
	p.mu.Unlock()
	return nil
}

func (p *RecordingProvider) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sent, len(p.sent))
	copy(out, p.sent)
	return out
}
