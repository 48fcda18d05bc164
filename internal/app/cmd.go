package app

// Command はvitalsyncの起動モードを表すサブコマンド。
type Command string

const (
	// CommandServe は同期トリガーAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期同期スケジューラと実行記録クリーンアップを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを1回実行して終了する。
	// distrolessイメージにはcurlがないためバイナリ自身が兼ねる。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭のコマンドライン引数をサブコマンドとして解釈する。
// 引数なし・未知のサブコマンドはどちらもCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
