package lark

import (
	"context"
	"fmt"
	"io"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	apperrors "cookclip/internal/errors"
)

// Open platform codes for request frequency limits.
const (
	codeFrequencyLimit   = 99991400
	codeIMFrequencyLimit = 230020
)

// API is the subset of the Lark IM API the gateway uses.
type API interface {
	SendMessage(ctx context.Context, chatID, msgType, content string) (string, error)
	UpdateMessage(ctx context.Context, messageID, msgType, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	UploadFile(ctx context.Context, payload io.Reader, fileName, fileType string, duration time.Duration) (string, error)
}

type sdkAPI struct {
	client *lark.Client
}

func newSDKAPI(client *lark.Client) *sdkAPI {
	return &sdkAPI{client: client}
}

func (a *sdkAPI) SendMessage(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := a.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark create message: %w", err)
	}
	if !resp.Success() {
		return "", responseError("create message", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", fmt.Errorf("lark create message: response has no message_id")
	}
	return *resp.Data.MessageId, nil
}

func (a *sdkAPI) UpdateMessage(ctx context.Context, messageID, msgType, content string) error {
	req := larkim.NewUpdateMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewUpdateMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := a.client.Im.Message.Update(ctx, req)
	if err != nil {
		return fmt.Errorf("lark update message: %w", err)
	}
	if !resp.Success() {
		return responseError("update message", resp.Code, resp.Msg)
	}
	return nil
}

func (a *sdkAPI) DeleteMessage(ctx context.Context, messageID string) error {
	req := larkim.NewDeleteMessageReqBuilder().
		MessageId(messageID).
		Build()

	resp, err := a.client.Im.Message.Delete(ctx, req)
	if err != nil {
		return fmt.Errorf("lark delete message: %w", err)
	}
	if !resp.Success() {
		return responseError("delete message", resp.Code, resp.Msg)
	}
	return nil
}

func (a *sdkAPI) UploadFile(ctx context.Context, payload io.Reader, fileName, fileType string, duration time.Duration) (string, error) {
	body := larkim.NewCreateFileReqBodyBuilder().
		FileType(fileType).
		FileName(fileName).
		File(payload)
	if duration > 0 {
		body = body.Duration(int(duration.Milliseconds()))
	}
	req := larkim.NewCreateFileReqBuilder().
		Body(body.Build()).
		Build()

	resp, err := a.client.Im.File.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark upload file: %w", err)
	}
	if !resp.Success() {
		return "", responseError("upload file", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.FileKey == nil {
		return "", fmt.Errorf("lark upload file: response has no file_key")
	}
	return *resp.Data.FileKey, nil
}

// responseError maps an unsuccessful API response. Frequency limits become
// rate-limit errors so the outbound limiter backs off.
func responseError(op string, code int, msg string) error {
	err := fmt.Errorf("lark %s: code=%d msg=%s", op, code, msg)
	switch code {
	case codeFrequencyLimit, codeIMFrequencyLimit:
		return apperrors.NewRateLimitError(err, 1)
	default:
		return err
	}
}
