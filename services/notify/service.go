package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier 交易通知接口
//
// 尽力而为：返回 false 表示发送失败，调用方不得因此回滚已完成的转账
type Notifier interface {
	TransactionSent(ctx context.Context, n *TransactionNotice) bool
}

// TransactionNotice 转账成功后的通知内容
type TransactionNotice struct {
	Principal string
	Token     string
	To        string
	Amount    string
	TxHash    string
	// TotalUsed 累计已用次数（含本次）
	TotalUsed int
	// Remaining 剩余次数
	Remaining int
}

// WebhookNotifier 通过 Webhook（Discord embed 格式）发送通知
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器；url 为空时通知被关闭
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// TransactionSent 发送交易通知
//
// 任何失败只记录日志并返回 false，从不向上抛错
func (w *WebhookNotifier) TransactionSent(ctx context.Context, n *TransactionNotice) bool {
	if w.url == "" {
		return false
	}

	// 1. 构建 embed（与历史消息格式保持一致）
	embed := map[string]interface{}{
		"title":       fmt.Sprintf("💸 %s Transaction Sent", n.Token),
		"description": "A transaction has been successfully sent!",
		"color":       0x00FF00,
		"fields": []map[string]interface{}{
			{"name": "Recipient", "value": fmt.Sprintf("`%s`", n.To), "inline": true},
			{"name": "Amount", "value": fmt.Sprintf("%s %s", n.Amount, n.Token), "inline": true},
			{"name": "Etherscan", "value": fmt.Sprintf("[View Transaction](https://etherscan.io/tx/%s)", n.TxHash), "inline": false},
			{"name": "Total Transactions", "value": fmt.Sprintf("%d", n.TotalUsed), "inline": true},
			{"name": "Transactions Left", "value": fmt.Sprintf("%d", n.Remaining), "inline": true},
		},
		"footer":    map[string]interface{}{"text": "Powered by PlanPay"},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		log.Printf("notify: encode webhook payload failed: %v", err)
		return false
	}

	// 2. POST 到 Webhook
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: build webhook request failed: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Printf("notify: send webhook failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("notify: webhook returned status %d", resp.StatusCode)
		return false
	}
	return true
}
