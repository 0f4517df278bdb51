// メッセージングサービスのエントリポイント。
// ダイレクトメッセージ、管理者の一斉送信、通知、ブロック管理のAPIと
// リアルタイム配信用のWebSocketを提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/msghub/internal/messaging"
	"github.com/nao1215/msghub/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := messaging.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("メッセージングサーバーの初期化に失敗: %v", err)
	}

	runErr := server.Run(ctx)
	if err := server.Close(); err != nil {
		log.Printf("終了処理でエラーが発生: %v", err)
	}
	if runErr != nil {
		log.Fatalf("メッセージングサービスが異常終了しました: %v", runErr)
	}
	log.Println("メッセージングサービスを停止しました")
}
