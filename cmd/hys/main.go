// Command hys はCLIのエントリポイント: argvをapp.Runへ転送し、
// 適切な終了コードで終了する。引数解析、OPMLインポート/エクスポート、
// 端末への描画はapp.Runの呼び出し側契約に属し、このファイルの
// 責務ではない。
package main

import (
	"fmt"
	"os"

	"hysrss/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
