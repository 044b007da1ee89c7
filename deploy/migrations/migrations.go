// Package migrations 内嵌 MySQL 数据库迁移脚本，
// 供需要手动建表的部署在启动前执行。
package migrations

import "embed"

// FS 包含所有迁移 SQL 文件，按文件名顺序执行。
//
//go:embed *.sql
var FS embed.FS
