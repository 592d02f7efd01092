package idgen

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/appointly/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("idgen",
	fx.Provide(NewSnowflakeNode),
	fx.Provide(NewSequencer),
)

func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
