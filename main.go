// vitalsyncは複数の外部サービスから個人の健康データを同期し、
// 日次サマリーへ集計するデーモン。
// サブコマンド: serve（APIサーバー）、worker（同期スケジューラ）、
// migrate（DBマイグレーション）、healthcheck（コンテナ用ヘルスチェック）。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/vitalsync/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vitalsync: %v\n", err)
		os.Exit(1)
	}
}
