package app

import (
	"errors"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandImport はJSONファイルから移行元ユーザーを一括移行することを示す。
	CommandImport Command = "import"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrImportFileRequired はimportサブコマンドにファイルパスが指定されていないことを表す。
var ErrImportFileRequired = errors.New("usage: import <file> [realm]")

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "import":
		return CommandImport
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseImportArgs はimportサブコマンドの引数からファイルパスとレルムを取り出す。
// argsはサブコマンド名を含むos.Args[1:]。レルム省略時はdefaultRealmを返す。
func ParseImportArgs(args []string, defaultRealm string) (path, realm string, err error) {
	if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
		return "", "", ErrImportFileRequired
	}
	path = args[1]
	realm = defaultRealm
	if len(args) >= 3 && strings.TrimSpace(args[2]) != "" {
		realm = args[2]
	}
	return path, realm, nil
}
