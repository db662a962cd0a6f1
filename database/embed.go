// Package database embed dosyası — migration SQL dosyalarını binary'ye gömer.
// Deploy edilen binary yanında migration dosyalarına ihtiyaç duymaz.
package database

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations, gömülü migration dosyalarını kök dizin olarak döner.
// database.New'e doğrudan geçilebilir.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// embed derleme zamanında garanti — buraya düşmek programlama hatasıdır.
		panic(err)
	}
	return sub
}
