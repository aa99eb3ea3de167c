// Package logx configures propbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - JSON output for log shippers when the job runs under cron/systemd
//   - An optional alert sink that forwards warn+ records to an operator chat
//     (min-level + rate limiting)
package logx
