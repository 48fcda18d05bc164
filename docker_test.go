package main_test

import (
	"os"
	"strings"
	"testing"
)

func readDockerfile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	return string(data)
}

func readCompose(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	return string(data)
}

// serviceBlock はcompose定義から指定サービスのブロックを切り出す。
// サービス名は2スペース、その中身は4スペース以上のインデントで並ぶ前提。
func serviceBlock(content, name string) string {
	lines := strings.Split(content, "\n")
	var block []string
	inBlock := false
	for _, line := range lines {
		if line == "  "+name+":" {
			inBlock = true
			continue
		}
		if inBlock {
			if line != "" && !strings.HasPrefix(line, "    ") {
				break
			}
			block = append(block, line)
		}
	}
	return strings.Join(block, "\n")
}

// TestDockerfile_MultiStageBuild はGoビルダーステージと軽量な
// 最終ステージの2段構成になっていることを検証する。
func TestDockerfile_MultiStageBuild(t *testing.T) {
	content := readDockerfile(t)

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image, got: %s", lastFrom)
	}
}

// TestDockerfile_StaticBinary はdistrolessで動く静的リンクバイナリを
// ビルドしていることを検証する。
func TestDockerfile_StaticBinary(t *testing.T) {
	content := readDockerfile(t)

	if !strings.Contains(content, "CGO_ENABLED=0") {
		t.Error("Dockerfile should build with CGO_ENABLED=0 for a static binary")
	}
	if !strings.Contains(content, "vitalsync") {
		t.Error("Dockerfile should build a binary named 'vitalsync'")
	}
}

// TestDockerfile_Entrypoint はvitalsyncバイナリをエントリポイントとし、
// デフォルトでserveサブコマンドを起動することを検証する。
func TestDockerfile_Entrypoint(t *testing.T) {
	content := readDockerfile(t)

	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
	if !strings.Contains(content, `CMD ["serve"]`) {
		t.Error("Dockerfile should default to the serve subcommand")
	}
	if !strings.Contains(content, "EXPOSE 8080") {
		t.Error("Dockerfile should expose port 8080")
	}
}

// TestCompose_ThreeServices はapi/worker/dbの3コンテナ構成を検証する。
func TestCompose_ThreeServices(t *testing.T) {
	content := readCompose(t)

	for _, svc := range []string{"api", "worker", "db"} {
		if serviceBlock(content, svc) == "" {
			t.Errorf("docker-compose.yml should define service %q", svc)
		}
	}
}

// TestCompose_ServiceCommands はapiがserve、workerがworkerサブコマンドで
// 起動することを検証する。
func TestCompose_ServiceCommands(t *testing.T) {
	content := readCompose(t)

	if !strings.Contains(serviceBlock(content, "api"), `command: ["serve"]`) {
		t.Error("api service should start with the serve subcommand")
	}
	if !strings.Contains(serviceBlock(content, "worker"), `command: ["worker"]`) {
		t.Error("worker service should start with the worker subcommand")
	}
}

// TestCompose_DatabaseWiring はapi/workerがcomposeネットワーク内の
// dbサービスへ接続し、起動順がDBのhealthcheckに従うことを検証する。
func TestCompose_DatabaseWiring(t *testing.T) {
	content := readCompose(t)

	if !strings.Contains(serviceBlock(content, "db"), "postgres:") {
		t.Error("db service should use a PostgreSQL image")
	}
	for _, svc := range []string{"api", "worker"} {
		block := serviceBlock(content, svc)
		if !strings.Contains(block, "@db:5432") {
			t.Errorf("%s service DATABASE_URL should point at the db service", svc)
		}
		if !strings.Contains(block, "condition: service_healthy") {
			t.Errorf("%s service should wait for db to become healthy", svc)
		}
	}
}

// TestCompose_Healthcheck はapiコンテナのhealthcheckがvitalsyncの
// healthcheckサブコマンドを使うことを検証する。
func TestCompose_Healthcheck(t *testing.T) {
	content := readCompose(t)

	if !strings.Contains(serviceBlock(content, "api"), `"healthcheck"`) {
		t.Error("api service healthcheck should run the healthcheck subcommand")
	}
}

// TestCompose_EgressIsolation はDBコンテナを内部ネットワークに閉じ込め、
// 外部通信を行うapi/workerだけが外向きネットワークを持つことを検証する。
func TestCompose_EgressIsolation(t *testing.T) {
	content := readCompose(t)

	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}

	dbBlock := serviceBlock(content, "db")
	if !strings.Contains(dbBlock, "- internal") {
		t.Error("db service should join the internal network")
	}
	if strings.Contains(dbBlock, "- external") {
		t.Error("db service should not have an external network route")
	}

	for _, svc := range []string{"api", "worker"} {
		block := serviceBlock(content, svc)
		if !strings.Contains(block, "- external") {
			t.Errorf("%s service needs the external network for source sync", svc)
		}
	}
}
