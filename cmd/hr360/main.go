// Command hr360 はHR.360ダッシュボードのバックエンドを起動する。
//
//	hr360 [serve]          APIサーバー
//	hr360 worker           期限切れセッション・トークンの定期削除
//	hr360 migrate [up|down|version]
//	hr360 healthcheck      Dockerヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/hr360/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
