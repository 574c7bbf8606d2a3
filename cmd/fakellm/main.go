// Command fakellm serves a canned Messages API for local runs. Point
// llm.anthropicUrl at it to exercise the gateway without a real key.
package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	addr  string
	mode  string
	reply string
	delay time.Duration
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "fakellm",
		Short: "Canned Messages API for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("fake provider starting", zap.String("addr", opts.addr), zap.String("mode", opts.mode))
			return http.ListenAndServe(opts.addr, newRouter(opts, logger))
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":3001", "listen address")
	cmd.Flags().StringVar(&opts.mode, "mode", "json", "reply mode: json, prose, flaky or overloaded")
	cmd.Flags().StringVar(&opts.reply, "reply", `{"summary":"Generated by the fake provider."}`, "text returned in json mode")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "delay before each reply")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRouter(opts options, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	var calls atomic.Int64
	r.POST("/v1/messages", func(c *gin.Context) {
		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apiError("invalid_request_error", err.Error()))
			return
		}
		n := calls.Add(1)
		logger.Info("message request", zap.String("model", req.Model), zap.Int64("call", n))

		if opts.delay > 0 {
			select {
			case <-time.After(opts.delay):
			case <-c.Request.Context().Done():
				return
			}
		}

		switch opts.mode {
		case "overloaded":
			c.JSON(529, apiError("overloaded_error", "Overloaded"))
		case "flaky":
			if n%2 == 1 {
				c.JSON(http.StatusServiceUnavailable, apiError("api_error", "Temporarily unavailable"))
				return
			}
			c.JSON(http.StatusOK, message(req.Model, opts.reply))
		case "prose":
			c.JSON(http.StatusOK, message(req.Model, "Here is a short plain-text answer without any JSON."))
		default:
			c.JSON(http.StatusOK, message(req.Model, opts.reply))
		}
	})
	return r
}

func message(model, text string) gin.H {
	return gin.H{
		"id":          "msg_fake",
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     []gin.H{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       gin.H{"input_tokens": 10, "output_tokens": len(text) / 4},
	}
}

func apiError(kind, msg string) gin.H {
	return gin.H{"type": "error", "error": gin.H{"type": kind, "message": msg}}
}
