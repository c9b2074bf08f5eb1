package metadata

/** Definition for jobs. */
type JobStart func(params interface{}) (interface{}, error)

/** Definition for completion of a job. */
type JobOnComplete func(result interface{})

/** Definition for failure of a job. */
type JobOnFailure func(err error)

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Shows up in logs when the job fails. */
	Name string
	/** @brief A function pointer to be invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief A function pointer to be invoked when the job successfully completes. Optional. */
	OnComplete JobOnComplete
	/** @brief A function pointer to be invoked when the job fails. Optional. */
	OnFailure JobOnFailure
	/** @brief Data to be passed to the entry point upon execution. */
	InputParams interface{}
	/** @brief Called after either OnComplete or OnFailure. Optional. */
	OnCompletionCallback func()
}
