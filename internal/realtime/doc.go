// Package realtime はWebSocketによるルーム単位のイベント配信を提供する。
//
// 接続はアカウントIDと同名のルームに自動で参加する。サービス層は
// Broker.Emitでイベントを渡し、Brokerが同一プロセスのHubまたは
// Redis Pub/Sub経由で全インスタンスのHubへ届ける。
//
// 配信は補助的な通知であり、オフラインのルームへのイベントは保存しない。
// 送信キューが一杯の接続へのイベントは破棄する。
package realtime
