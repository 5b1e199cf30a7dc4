package cli

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fdkevin0/qzlogin"
	"github.com/fdkevin0/qzlogin/internal/configsource"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type runtimeConfig struct {
	App        *qzlogin.Config
	Debug      bool
	ConfigFile string
}

type runtimeConfigValues struct {
	qzlogin.Config `toml:",squash"`
	Debug          bool `toml:"debug"`
}

func buildRuntimeConfig(cmd *cobra.Command, args []string) (*runtimeConfig, error) {
	v, err := configsource.NewViperForCommand(cmd, flagConfigFile)
	if err != nil {
		return nil, err
	}

	values := runtimeConfigValues{
		Config: *qzlogin.NewDefaultConfig(),
	}
	decodeOpts := func(dc *mapstructure.DecoderConfig) {
		// Config structs carry toml tags only; reuse them for viper keys.
		dc.TagName = "toml"
	}
	if err := v.Unmarshal(&values, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)), decodeOpts); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}

	values.Password = strings.TrimSpace(values.Password)
	values.CookieFile = strings.TrimSpace(values.CookieFile)
	values.HTTPOpts.UserAgent = strings.TrimSpace(values.HTTPOpts.UserAgent)
	values.HTTPOpts.Proxy = strings.TrimSpace(values.HTTPOpts.Proxy)

	if values.Uin == 0 && len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &values.Uin); err != nil {
			return nil, fmt.Errorf("无效的QQ号: %q", args[0])
		}
	}

	cfg := &runtimeConfig{
		App:        &values.Config,
		Debug:      values.Debug,
		ConfigFile: v.ConfigFileUsed(),
	}

	if err := validateRuntimeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateRuntimeConfig(cfg *runtimeConfig) error {
	if cfg.App.Uin <= 0 {
		return fmt.Errorf("必须指定QQ号 (--uin 或位置参数)")
	}
	switch cfg.App.Strategy {
	case qzlogin.StrategyForce, qzlogin.StrategyPrefer, qzlogin.StrategyAllow, qzlogin.StrategyForbid:
	default:
		return fmt.Errorf("无效的 strategy: %q (force/prefer/allow/forbid)", cfg.App.Strategy)
	}
	if cfg.App.Strategy == qzlogin.StrategyForbid && cfg.App.Password == "" {
		return fmt.Errorf("strategy=forbid 时必须提供密码")
	}
	if cfg.App.HTTPOpts.Timeout <= 0 {
		return fmt.Errorf("timeout 必须大于 0")
	}
	if cfg.App.QR.PollInterval <= 0 {
		return fmt.Errorf("poll-interval 必须大于 0")
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}

		switch value := data.(type) {
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float64:
			return time.Duration(value) * time.Second, nil
		case string:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				return time.Duration(0), nil
			}
			if strings.ContainsAny(trimmed, "hmsuµns") {
				parsed, err := time.ParseDuration(trimmed)
				if err != nil {
					return nil, err
				}
				return parsed, nil
			}
			return time.ParseDuration(trimmed + "s")
		default:
			return data, nil
		}
	}
}
