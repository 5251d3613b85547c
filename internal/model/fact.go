package model

import "encoding/json"

// NoFactFound は上流レスポンスにfactフィールドが無い場合に返す文言。
const NoFactFound = "No fact found."

// MockPayload はモックAPIへそのまま転送する任意のJSON値。
// コアはスキーマを解釈しない。
type MockPayload = json.RawMessage

// MockResult はモックAPI呼び出しの正規化済み結果。
// 作成・更新ではBodyに上流のエコー、削除ではStatusのみを持つ。
type MockResult struct {
	Body   json.RawMessage
	Status int
}
