package repository

import (
	"fmt"
)

// 建表语句，uk_voter_election唯一键是一人一票约束的存储层兜底
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS elections (
		id          VARCHAR(64)  NOT NULL,
		title       VARCHAR(255) NOT NULL,
		description TEXT,
		phase       VARCHAR(16)  NOT NULL DEFAULT 'scheduled',
		start_time  DATETIME     NOT NULL,
		end_time    DATETIME     NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS election_constituencies (
		election_id  VARCHAR(64)  NOT NULL,
		constituency VARCHAR(128) NOT NULL,
		PRIMARY KEY (election_id, constituency)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS candidates (
		id           VARCHAR(64)  NOT NULL,
		election_id  VARCHAR(64)  NOT NULL,
		name         VARCHAR(255) NOT NULL,
		symbol       VARCHAR(64),
		symbol_image VARCHAR(512),
		votes        BIGINT       NOT NULL DEFAULT 0,
		position     INT          NOT NULL DEFAULT 0,
		PRIMARY KEY (election_id, id),
		KEY idx_election_position (election_id, position)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS voters (
		id           VARCHAR(64)  NOT NULL,
		name         VARCHAR(255) NOT NULL,
		constituency VARCHAR(128),
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ballots (
		id           BIGINT       NOT NULL AUTO_INCREMENT,
		voter_id     VARCHAR(64)  NOT NULL,
		election_id  VARCHAR(64)  NOT NULL,
		candidate_id VARCHAR(64)  NOT NULL,
		voted_at     DATETIME     NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uk_voter_election (voter_id, election_id),
		KEY idx_election (election_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema 在主库上创建缺失的表
func (r *MySQLLedger) EnsureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := r.masterDB.Exec(stmt); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}
