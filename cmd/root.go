package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	globalConfig "github.com/calmecac/wabridge/config"
	"github.com/calmecac/wabridge/pkg/utils"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "Multi-tenant WhatsApp bridge with a conversational bot core",
	Long: `wabridge runs multiple WhatsApp sessions per account, buffers inbound
messages into conversation turns stored in Firestore, and delivers bot
replies back through the originating session.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig, initApp)
}

// initEnvConfig loads configuration from environment variables
func initEnvConfig() {
	if envPort := viper.GetString("app_port"); envPort != "" {
		globalConfig.AppPort = envPort
	}
	if envDebug := viper.GetBool("app_debug"); envDebug {
		globalConfig.AppDebug = envDebug
	}
	if envOs := viper.GetString("app_os"); envOs != "" {
		globalConfig.AppOs = envOs
	}
	if envTrustedProxies := viper.GetString("app_trusted_proxies"); envTrustedProxies != "" {
		globalConfig.AppTrustedProxies = strings.Split(envTrustedProxies, ",")
	}
	if envProject := viper.GetString("gcp_project_id"); envProject != "" {
		globalConfig.GcpProjectID = envProject
	}
	if envCreds := viper.GetString("gcp_credentials_json"); envCreds != "" {
		globalConfig.GcpCredentialsJSON = envCreds
	}
	if envBucket := viper.GetString("media_bucket"); envBucket != "" {
		globalConfig.MediaBucket = envBucket
	}
	if viper.IsSet("bot_debounce_ms") {
		globalConfig.BotDebounceMs = viper.GetInt("bot_debounce_ms")
	}
	if viper.IsSet("bot_hard_cap_ms") {
		globalConfig.BotHardCapMs = viper.GetInt("bot_hard_cap_ms")
	}
	if viper.IsSet("policy_cache_ttl_ms") {
		globalConfig.PolicyCacheTtlMs = viper.GetInt("policy_cache_ttl_ms")
	}
	if envFallback := viper.GetString("fallback_reply_text"); envFallback != "" {
		globalConfig.FallbackReplyText = envFallback
	}
	if viper.IsSet("ws_max_connections") {
		globalConfig.WsMaxConnections = viper.GetInt("ws_max_connections")
	}
	if viper.IsSet("ws_heartbeat_sec") {
		globalConfig.WsHeartbeatSec = viper.GetInt("ws_heartbeat_sec")
	}
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppPort,
		"port", "p",
		globalConfig.AppPort,
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppOs,
		"os", "",
		globalConfig.AppOs,
		`os name --os <string> | example: --os="Chrome"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.GcpProjectID,
		"gcp-project-id", "",
		globalConfig.GcpProjectID,
		`GCP project for Firestore and Firebase Auth --gcp-project-id <string>`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.GcpCredentialsFile,
		"gcp-credentials-file", "",
		globalConfig.GcpCredentialsFile,
		`service account key file --gcp-credentials-file <path> | empty falls back to ADC`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.MediaBucket,
		"media-bucket", "",
		globalConfig.MediaBucket,
		`GCS bucket for inbound voice notes --media-bucket <string> | empty disables voice persistence`,
	)
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.BotDebounceMs,
		"bot-debounce-ms", "",
		globalConfig.BotDebounceMs,
		`silence window before a turn closes --bot-debounce-ms <number> | example: --bot-debounce-ms=15000`,
	)
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.MessageWorkerPoolSize,
		"message-workers", "",
		globalConfig.MessageWorkerPoolSize,
		`number of concurrent message workers --message-workers <number> | example: --message-workers=30 (default: 20)`,
	)
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.MessageWorkerQueueSize,
		"message-queue-size", "",
		globalConfig.MessageWorkerQueueSize,
		`queue size per message worker --message-queue-size <number> | example: --message-queue-size=1500 (default: 1000)`,
	)
}

func initApp() {
	if globalConfig.AppDebug {
		globalConfig.WhatsappLogLevel = "DEBUG"
		logrus.SetLevel(logrus.DebugLevel)
	}

	// preparing folder if not exist
	if err := utils.CreateFolder(globalConfig.PathStorages, globalConfig.PathSessions); err != nil {
		logrus.Errorln(err)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
