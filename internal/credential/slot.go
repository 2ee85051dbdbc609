// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import "time"

// SlotName 标识一个凭据槽
type SlotName string

const (
	// AccessToken 是调用行情接口所需的 Bearer 令牌
	AccessToken SlotName = "access_token"
	// ApprovalKey 是实时推送连接所需的批准密钥
	ApprovalKey SlotName = "approval_key"
)

// AllSlots 按固定顺序列出所有凭据槽
var AllSlots = []SlotName{AccessToken, ApprovalKey}

// Known 判断槽名是否受支持
func (n SlotName) Known() bool {
	return n == AccessToken || n == ApprovalKey
}

// Slot 是缓存中的一个凭据
type Slot struct {
	Name      SlotName
	Value     string
	ExpiresAt time.Time
}

// Valid 当且仅当 now 早于 ExpiresAt 时凭据有效
func (s Slot) Valid(now time.Time) bool {
	return s.Value != "" && now.Before(s.ExpiresAt)
}
