package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/registry"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tools the model would be offered, as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := registry.Build(cfg, registry.Deps{Logger: quiet(logger)})
			if err != nil {
				return err
			}
			defer c.Close()

			sample := domain.ExecutionContext{
				AgentName: cfg.Name,
				Message: domain.Message{
					ID:         "sample",
					Channel:    domain.ChannelWebhook,
					From:       "sample@example.com",
					Body:       "sample",
					ReceivedAt: time.Now(),
				},
			}
			reg, err := tool.Build(c.Sources, c.Actions, sample, quiet(logger))
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(reg.Definitions(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
