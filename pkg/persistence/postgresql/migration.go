package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE connections (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				conn_type VARCHAR(50) NOT NULL,
				base_url TEXT NOT NULL,
				credentials JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				owner VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				params JSONB,
				steps JSONB NOT NULL DEFAULT '[]',
				current_step INT NOT NULL DEFAULT 0,
				total_steps INT NOT NULL DEFAULT 0,
				completed_steps INT NOT NULL DEFAULT 0,
				failed_steps INT NOT NULL DEFAULT 0,
				attempt_count INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL DEFAULT 3,
				retry_after TIMESTAMP WITH TIME ZONE,
				queue_job_id VARCHAR(255),
				queue_name VARCHAR(255),
				paused_at TIMESTAMP WITH TIME ZONE,
				paused_by VARCHAR(255),
				resumed_at TIMESTAMP WITH TIME ZONE,
				resumed_by VARCHAR(255),
				result JSONB,
				step_results JSONB NOT NULL DEFAULT '[]',
				error TEXT,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL DEFAULT 1
			);

			CREATE INDEX idx_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_executions_status ON workflow_executions(status);
			CREATE INDEX idx_executions_retry_after ON workflow_executions(retry_after);

			CREATE TABLE execution_logs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id),
				seq BIGINT NOT NULL,
				step_order INT,
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				data JSONB,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, seq)
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id);
		`,
		3: `
			CREATE TABLE schedules (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				owner VARCHAR(255),
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_next_due_at ON schedules(next_due_at);
			CREATE INDEX idx_schedules_active ON schedules(active);
		`,
	}
}
