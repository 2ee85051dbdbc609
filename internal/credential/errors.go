// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"errors"
	"fmt"
)

// ErrUnknownSlot 表示请求了不受支持的槽名
var ErrUnknownSlot = errors.New("unknown credential slot")

// errMissingValue 表示远端响应中缺少期望的凭据字段
var errMissingValue = errors.New("响应中缺少凭据字段")

// AcquisitionError 表示一次凭据获取失败：网络错误、超时或响应结构不合法。
type AcquisitionError struct {
	Slot SlotName
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("获取凭据 %s 失败: %v", e.Slot, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
