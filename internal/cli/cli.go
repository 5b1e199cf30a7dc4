package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fdkevin0/qzlogin"
	"github.com/spf13/cobra"
)

var (
	// 命令行参数
	flagUin          int64
	flagPassword     string
	flagStrategy     string
	flagCookieFile   string
	flagTimeout      int
	flagPollInterval int
	flagMaxRefresh   int
	flagProxy        string
	flagDebug        bool
	flagConfigFile   string

	// publish 命令参数
	flagPublishText string
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "qzlogin [QQ号]",
	Short: "QQ空间登录工具 - 扫码/密码登录并维护会话Cookie",
	Long: `qzlogin 模拟浏览器行为完成QQ空间登录，支持两种方式：
- 扫码登录：生成二维码，轮询扫码状态
- 密码登录：密码加密提交，自动处理滑块验证码与短信验证

登录成功后Cookie会缓存到本地文件，后续API调用自动携带g_tk签名，
会话过期时自动重新登录。`,
	Example: `  # 扫码登录
  qzlogin 123456789 --strategy=force

  # 密码登录（密码经环境变量传入）
  QZLOGIN_PASSWORD=xxx qzlogin 123456789 --strategy=forbid

  # 登录后发布一条说说
  qzlogin publish --uin=123456789 --text="hello"`,
	RunE: runLogin,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		qzlogin.InitLogger(flagDebug)
	},
	Args: cobra.MaximumNArgs(1),
}

// heartbeatCmd 心跳命令：拉取未读计数，顺带保活
var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "拉取未读动态计数（同时为会话保活）",
	RunE:  runHeartbeat,
	Args:  cobra.MaximumNArgs(1),
}

// publishCmd 发布说说命令
var publishCmd = &cobra.Command{
	Use:     "publish",
	Short:   "发布一条文字说说",
	Example: `  qzlogin publish --uin=123456789 --text="hello qzone"`,
	RunE:    runPublish,
	Args:    cobra.MaximumNArgs(1),
}

func init() {
	defaults := qzlogin.NewDefaultConfig()

	rootCmd.PersistentFlags().Int64Var(&flagUin, "uin", 0, "QQ号")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "账号密码（建议用环境变量 QZLOGIN_PASSWORD）")
	rootCmd.PersistentFlags().StringVar(&flagStrategy, "strategy", string(defaults.Strategy), "登录方式: force/prefer/allow/forbid")
	rootCmd.PersistentFlags().StringVar(&flagCookieFile, "cookie-file", "", "Cookie缓存文件路径")
	rootCmd.PersistentFlags().IntVar(&flagTimeout, "timeout", 30, "HTTP请求超时(秒)")
	rootCmd.PersistentFlags().IntVar(&flagPollInterval, "poll-interval", 3, "二维码轮询间隔(秒)")
	rootCmd.PersistentFlags().IntVar(&flagMaxRefresh, "max-refresh", defaults.QR.MaxRefresh, "二维码过期重发上限")
	rootCmd.PersistentFlags().StringVar(&flagProxy, "proxy", "", "HTTP代理地址")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "配置文件路径")

	publishCmd.Flags().StringVar(&flagPublishText, "text", "", "说说内容")

	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(publishCmd)
}

// Execute 执行命令行程序
func Execute() error {
	return rootCmd.Execute()
}

// buildStack 组装客户端、登录管理器与API层
func buildStack(cmd *cobra.Command, args []string) (*runtimeConfig, *qzlogin.Manager, *qzlogin.QzoneAPI, error) {
	cfg, err := buildRuntimeConfig(cmd, args)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := qzlogin.NewClient(cfg.App.HTTPOpts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("创建HTTP客户端失败: %w", err)
	}

	hooks := &qzlogin.Hooks{
		QrFetched:  showQrCode,
		GetSmsCode: promptSmsCode,
	}
	notifier := &qzlogin.Notifier{}
	notifier.OnLoginSuccess(func(m qzlogin.LoginSuccess) {
		fmt.Printf("✓ 登录成功: uin=%d method=%s\n", m.Uin, m.Method)
	})
	notifier.OnLoginFailed(func(m qzlogin.LoginFailed) {
		fmt.Fprintf(os.Stderr, "✗ %s 登录失败: %s\n", m.Method, m.Message)
	})

	mgr := qzlogin.NewManager(cfg.App, client, hooks, notifier)

	// 尝试复用上次登录的Cookie
	if path := cookieFilePath(cfg.App); path != "" {
		store := qzlogin.NewCookieStore(path)
		if cookies, savedAt, err := store.Load(cfg.App.Uin); err == nil {
			if err := mgr.SetCookies(cookies); err == nil {
				fmt.Printf("已加载 %s 缓存的Cookie (%s)\n", path, savedAt.Format("2006-01-02 15:04"))
			}
		}
	}

	return cfg, mgr, qzlogin.NewQzoneAPI(client, cfg.App, mgr), nil
}

func cookieFilePath(cfg *qzlogin.Config) string {
	if cfg.CookieFile != "" {
		return cfg.CookieFile
	}
	dir := qzlogin.DefaultDataDir("qzlogin")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("cookies-%d.toml", cfg.Uin))
}

// runLogin 执行登录并缓存Cookie
func runLogin(cmd *cobra.Command, args []string) error {
	cfg, mgr, _, err := buildStack(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cookies, err := mgr.EnsureFresh(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	if path := cookieFilePath(cfg.App); path != "" {
		if err := qzlogin.NewCookieStore(path).Save(cfg.App.Uin, cookies); err != nil {
			fmt.Fprintf(os.Stderr, "保存Cookie失败: %v\n", err)
		} else {
			fmt.Printf("✓ Cookie已缓存到 %s\n", path)
		}
	}
	fmt.Printf("g_tk=%d\n", mgr.Gtk())
	return nil
}

// runHeartbeat 拉取未读计数
func runHeartbeat(cmd *cobra.Command, args []string) error {
	_, _, api, err := buildStack(cmd, args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counts, err := api.GetFeedsCount(ctx)
	if err != nil {
		return fmt.Errorf("拉取未读计数失败: %w", err)
	}
	for k, v := range counts {
		if v > 0 {
			fmt.Printf("%s: %d\n", k, v)
		}
	}
	return nil
}

// runPublish 发布说说
func runPublish(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(flagPublishText) == "" {
		return fmt.Errorf("--text 不能为空")
	}
	_, _, api, err := buildStack(cmd, args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tid, err := api.EmotionPublish(ctx, flagPublishText)
	if err != nil {
		return fmt.Errorf("发布失败: %w", err)
	}
	fmt.Printf("✓ 已发布: tid=%s\n", tid)
	return nil
}

// showQrCode 把二维码PNG落盘并提示用户扫码
func showQrCode(png []byte, refreshed int) {
	path := filepath.Join(os.TempDir(), "qzlogin-qr.png")
	if err := os.WriteFile(path, png, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "写入二维码失败: %v\n", err)
		return
	}
	if refreshed > 0 {
		fmt.Printf("二维码已刷新(第%d次)，请重新扫码: %s\n", refreshed, path)
	} else {
		fmt.Printf("请用手机QQ扫码登录: %s\n", path)
	}
}

// promptSmsCode 从终端读取短信验证码
func promptSmsCode(ctx context.Context, uin int64, phone, nickname string) (string, error) {
	fmt.Printf("账号 %d (%s) 需要短信验证，验证码已发送至 %s\n", uin, nickname, phone)
	fmt.Print("请输入短信验证码: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
