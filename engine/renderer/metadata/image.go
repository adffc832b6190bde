package metadata

/**
 * @brief A decoded image, always tightly packed RGBA8.
 */
type ImageResourceData struct {
	/** @brief The width of the image. */
	Width uint32
	/** @brief The height of the image. */
	Height uint32
	/** @brief The pixel data of the image. */
	Pixels []uint8
	/** @brief True when any pixel has alpha below 255. */
	HasTransparency bool
}

/** @brief Parameters used when loading an image. */
type ImageResourceParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}
