// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// tokenClient 调用运行中服务的管理接口
type tokenClient struct {
	addr   string
	client *http.Client
}

func (c *tokenClient) call(ctx context.Context, method, path string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	fmt.Fprintln(out, string(body))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("服务返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func newTokenCommand() *cobra.Command {
	tc := &tokenClient{client: &http.Client{Timeout: 30 * time.Second}}

	token := &cobra.Command{
		Use:   "token",
		Short: "Inspect or refresh credentials on a running server",
	}
	token.PersistentFlags().StringVar(&tc.addr, "addr", "http://localhost:3000", "base URL of the running kisproxy server")

	token.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of both credential slots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tc.call(contextOrBackground(cmd), http.MethodGet, "/api/token-status", cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Clear the credential cache and re-acquire both slots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tc.call(contextOrBackground(cmd), http.MethodPost, "/api/refresh-tokens", cmd.OutOrStdout())
			},
		},
	)
	return token
}
