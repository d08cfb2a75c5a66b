package domain

type Compressor interface {
	CompressFile(path string) (string, error)
	DecompressFile(sourcePath, destPath string) error
}

type Archiver interface {
	ArchiveDirectories(destPath string, directories, excludePatterns []string) error
	ExtractArchive(archivePath, destDir string) error
}

type Encryptor interface {
	EncryptFile(path string) (string, error)
	DecryptFile(sourcePath, destPath string) error
}
