package configsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fdkevin0/qzlogin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func NewViperForCommand(cmd *cobra.Command, configFlagValue string) (*viper.Viper, error) {
	v := viper.New()
	applyViperDefaults(v)

	v.SetEnvPrefix("QZLOGIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindViperFlags(v, cmd); err != nil {
		return nil, err
	}

	configPath, explicit, err := resolveConfigFilePath(cmd, configFlagValue)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok && !explicit {
				return v, nil
			}
			return nil, fmt.Errorf("读取配置文件失败 %q: %w", configPath, err)
		}
	}
	return v, nil
}

func applyViperDefaults(v *viper.Viper) {
	defaultConfig := qzlogin.NewDefaultConfig()
	v.SetDefault("uin", defaultConfig.Uin)
	v.SetDefault("password", defaultConfig.Password)
	v.SetDefault("strategy", string(defaultConfig.Strategy))
	v.SetDefault("cookie_file", defaultConfig.CookieFile)
	v.SetDefault("qr.max_refresh", defaultConfig.QR.MaxRefresh)
	v.SetDefault("qr.poll_interval", defaultConfig.QR.PollInterval)
	v.SetDefault("http_opts.timeout", defaultConfig.HTTPOpts.Timeout)
	v.SetDefault("http_opts.user_agent", defaultConfig.HTTPOpts.UserAgent)
	v.SetDefault("http_opts.proxy", defaultConfig.HTTPOpts.Proxy)
	v.SetDefault("http_opts.pow_timeout", defaultConfig.HTTPOpts.PowTimeout)
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) error {
	visited := make(map[string]struct{})
	var bindErr error
	bindFlag := func(f *pflag.Flag) {
		if f == nil || bindErr != nil {
			return
		}
		if _, ok := visited[f.Name]; ok {
			return
		}
		visited[f.Name] = struct{}{}
		configName := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(configName, f); err != nil {
			bindErr = fmt.Errorf("绑定 flag %q 到 key %q 失败: %w", f.Name, configName, err)
		}
	}

	cmd.Flags().VisitAll(bindFlag)
	cmd.InheritedFlags().VisitAll(bindFlag)
	if bindErr != nil {
		return bindErr
	}

	// Flag names stay flat while the config file nests under [qr]/[http_opts].
	v.RegisterAlias("qr.max_refresh", "max_refresh")
	v.RegisterAlias("qr.poll_interval", "poll_interval")
	v.RegisterAlias("http_opts.timeout", "timeout")
	v.RegisterAlias("http_opts.proxy", "proxy")
	return nil
}

func resolveConfigFilePath(cmd *cobra.Command, configFlagValue string) (string, bool, error) {
	if flagChanged(cmd, "config") {
		path := strings.TrimSpace(configFlagValue)
		if path == "" {
			return "", true, errors.New("--config 不能为空")
		}
		return path, true, nil
	}

	if value := strings.TrimSpace(os.Getenv("QZLOGIN_CONFIG")); value != "" {
		return value, true, nil
	}

	candidates := []string{
		filepath.Join(".", "qzlogin.toml"),
	}
	if userConfigDir, err := os.UserConfigDir(); err == nil && userConfigDir != "" {
		candidates = append(candidates, filepath.Join(userConfigDir, "qzlogin", "config.toml"))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, false, nil
		}
	}

	return "", false, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}
