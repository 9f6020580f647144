package main

import "embed"

// assets 存放压缩驱动镜像(1 字节标记 + DEFLATE)，发布构建时放入 assets/ 目录。
//
//go:embed all:assets
var assets embed.FS
